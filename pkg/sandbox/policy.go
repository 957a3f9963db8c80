package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID rejects ids that could escape the work directory or collide with
// dot files.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("sandbox: invalid request id %q", id)
	}
	return nil
}

// ArtifactPath is where the source for id is materialized.
func ArtifactPath(workDir, id, ext string) string {
	return filepath.Join(workDir, id+ext)
}

// ResultPath is where the textual result for id is persisted.
func ResultPath(workDir, id string) string {
	return filepath.Join(workDir, id+".txt")
}

// isArtifact reports whether name is <id><ext> or <id>.txt for a valid id.
func isArtifact(name, ext string) bool {
	for _, suffix := range []string{ext, ".txt"} {
		if suffix == "" {
			continue
		}
		if id, ok := strings.CutSuffix(name, suffix); ok && ValidateID(id) == nil {
			return true
		}
	}
	return false
}

// CheckWorkDir requires dir to resolve, symlinks included, to a location
// inside one of roots. An empty roots list allows any directory.
func CheckWorkDir(dir string, roots []string) error {
	if len(roots) == 0 {
		return nil
	}
	real := realPath(dir)
	for _, root := range roots {
		if within(real, realPath(root)) {
			return nil
		}
	}
	return fmt.Errorf("sandbox: %q is outside the allowed roots %v", dir, roots)
}

// realPath resolves symlinks in the longest existing prefix of p, so a work
// directory that is not created yet is still judged by where it will land.
func realPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		return r
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs
	}
	return filepath.Join(realPath(parent), filepath.Base(abs))
}

func within(p, root string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
