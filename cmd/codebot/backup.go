package codebot

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/codebot/pkg/config"
)

var backupCmd = &cobra.Command{
	Use:   "backup [output-path]",
	Short: "Snapshot the response ledger, config and optionally sandbox artifacts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Restore codebot state from a backup; the bot must be stopped",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

const (
	backupRoot     = "codebot-data"
	manifestName   = "manifest.json"
	backupDBName   = "codebot.db"
	manifestFormat = 1
)

var backupArtifacts bool

func init() {
	backupCmd.Flags().BoolVar(&backupArtifacts, "artifacts", false, "include sandbox artifacts and result files")
}

// manifest is the first entry of every archive.
type manifest struct {
	Format    int       `json:"format"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Database  bool      `json:"database"`
	Files     []string  `json:"files"`
}

// backupSource describes what goes into an archive. The database at dbPath is
// never copied directly; snapshot writes a consistent copy instead.
type backupSource struct {
	dataDir   string
	dbPath    string
	snapshot  func(ctx context.Context, dest string) error
	artifacts bool
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := os.Stat(config.DataDir()); err != nil {
		return fmt.Errorf("data directory %s does not exist", config.DataDir())
	}

	out := fmt.Sprintf("codebot-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	if len(args) > 0 {
		out = args[0]
	}

	db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	m, err := writeBackup(cmd.Context(), backupSource{
		dataDir:   config.DataDir(),
		dbPath:    cfg.Store.DSN,
		snapshot:  db.Snapshot,
		artifacts: backupArtifacts,
	}, out)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}
	fmt.Printf("Backup created: %s (%d files)\n", out, len(m.Files))
	return nil
}

func writeBackup(ctx context.Context, src backupSource, out string) (manifest, error) {
	m := manifest{Format: manifestFormat, Version: version, CreatedAt: time.Now().UTC()}
	entries := map[string]string{} // archive name -> host path

	if src.snapshot != nil {
		tmp, err := os.MkdirTemp("", "codebot-backup-")
		if err != nil {
			return m, err
		}
		defer os.RemoveAll(tmp)
		snap := filepath.Join(tmp, backupDBName)
		if err := src.snapshot(ctx, snap); err != nil {
			return m, err
		}
		entries[backupDBName] = snap
		m.Database = true
	}

	absOut, _ := filepath.Abs(out)
	absDB := ""
	if src.dbPath != "" {
		absDB, _ = filepath.Abs(src.dbPath)
	}
	err := filepath.WalkDir(src.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src.dataDir, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == "sandbox" && !src.artifacts {
				return filepath.SkipDir
			}
			return nil
		}
		abs, _ := filepath.Abs(p)
		if abs == absOut || (absDB != "" && strings.HasPrefix(abs, absDB)) || !d.Type().IsRegular() {
			return nil
		}
		entries[filepath.ToSlash(rel)] = p
		return nil
	})
	if err != nil {
		return m, err
	}
	for name := range entries {
		m.Files = append(m.Files, name)
	}
	slices.Sort(m.Files)

	f, err := os.Create(out)
	if err != nil {
		return m, fmt.Errorf("creating backup file: %w", err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	meta, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    path.Join(backupRoot, manifestName),
		Mode:    0o600,
		Size:    int64(len(meta)),
		ModTime: m.CreatedAt,
	}); err != nil {
		return m, err
	}
	if _, err := tw.Write(meta); err != nil {
		return m, err
	}
	for _, name := range m.Files {
		if err := addFile(tw, path.Join(backupRoot, name), entries[name]); err != nil {
			return m, fmt.Errorf("adding %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return m, err
	}
	if err := gw.Close(); err != nil {
		return m, err
	}
	return m, f.Close()
}

func addFile(tw *tar.Writer, name, hostPath string) error {
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := restoreBackup(args[0], config.DataDir(), cfg.Store.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d files from a %s backup taken %s\n",
		len(m.Files), m.Version, m.CreatedAt.Local().Format(time.DateTime))
	return nil
}

// restoreBackup unpacks an archive into dataDir, placing the database snapshot
// at dbPath. Files listed in the manifest but missing from the archive fail
// the restore.
func restoreBackup(archive, dataDir, dbPath string) (manifest, error) {
	var m manifest
	f, err := os.Open(archive)
	if err != nil {
		return m, fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return m, fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	hdr, err := tr.Next()
	if err != nil || hdr.Name != path.Join(backupRoot, manifestName) {
		return m, errors.New("not a codebot backup: manifest missing")
	}
	if err := json.NewDecoder(tr).Decode(&m); err != nil {
		return m, fmt.Errorf("reading manifest: %w", err)
	}
	if m.Format != manifestFormat {
		return m, fmt.Errorf("unsupported backup format %d", m.Format)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return m, fmt.Errorf("creating data directory: %w", err)
	}
	pending := make(map[string]bool, len(m.Files))
	for _, name := range m.Files {
		pending[name] = true
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, fmt.Errorf("reading tar: %w", err)
		}
		name, ok := strings.CutPrefix(hdr.Name, backupRoot+"/")
		if !ok || !pending[name] || hdr.Typeflag != tar.TypeReg {
			return m, fmt.Errorf("unexpected entry in backup: %s", hdr.Name)
		}

		target := filepath.Join(dataDir, filepath.FromSlash(name))
		if name == backupDBName && m.Database {
			target = dbPath
			// stale side files would be replayed over the restored database
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
		} else if !within(dataDir, target) {
			return m, fmt.Errorf("invalid path in backup: %s", hdr.Name)
		}
		if err := extract(tr, target, os.FileMode(hdr.Mode)); err != nil {
			return m, err
		}
		delete(pending, name)
	}

	if len(pending) > 0 {
		return m, fmt.Errorf("backup is truncated: %d files missing", len(pending))
	}
	return m, nil
}

func extract(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode&0o700|0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}

func within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
