package sandbox

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const containerWorkDir = "/workspace"

// Container confines the runtime stage inside an OCI container. The setup
// stages still run on the host because they only touch the work directory,
// which is mounted read-only at /workspace.
type Container struct {
	runtime string
	image   string
	memory  string
	cpus    string
	pids    int
}

type ContainerConfig struct {
	Runtime   string // docker, podman or nerdctl; detected from PATH when empty
	Image     string
	Memory    string
	CPUs      string
	PidsLimit int
}

func NewContainer(cfg ContainerConfig) (*Container, error) {
	c := &Container{
		runtime: cfg.Runtime,
		image:   cfg.Image,
		memory:  cfg.Memory,
		cpus:    cfg.CPUs,
		pids:    cfg.PidsLimit,
	}
	if c.runtime == "" {
		c.runtime = detectRuntime()
	}
	if c.runtime == "" {
		return nil, fmt.Errorf("sandbox: no container runtime found (install docker, podman, or nerdctl)")
	}
	if c.image == "" {
		c.image = "swift:latest"
	}
	if c.memory == "" {
		c.memory = "256m"
	}
	if c.cpus == "" {
		c.cpus = "1"
	}
	if c.pids <= 0 {
		c.pids = 64
	}
	return c, nil
}

func (c *Container) Runtime() string { return c.runtime }

// Name is the container name used for the request id.
func (c *Container) Name(id string) string { return "codebot-" + id }

// Wrap turns the runtime argv into a one-shot container invocation without
// network access, named after the request id. Arguments naming files under
// workDir are rewritten to the same files under /workspace.
func (c *Container) Wrap(workDir, id string, argv []string) (string, []string) {
	args := []string{
		"run", "--rm", "-i",
		"--name", c.Name(id),
		"--read-only",
		"--network", "none",
		"--tmpfs", "/tmp:rw,nosuid,size=64m",
		"--memory", c.memory,
		"--cpus", c.cpus,
		"--pids-limit", strconv.Itoa(c.pids),
		"-v", workDir + ":" + containerWorkDir + ":ro",
		"-w", containerWorkDir,
		c.image,
	}
	prefix := strings.TrimSuffix(workDir, "/") + "/"
	for _, a := range argv {
		if strings.HasPrefix(a, prefix) {
			a = containerWorkDir + "/" + strings.TrimPrefix(a, prefix)
		} else if a == workDir {
			a = containerWorkDir
		}
		args = append(args, a)
	}
	return c.runtime, args
}

// Remove is the command that force-removes the container for id. Killing the
// runtime client does not stop a container the daemon already started.
func (c *Container) Remove(id string) (string, []string) {
	return c.runtime, []string{"rm", "-f", c.Name(id)}
}

func detectRuntime() string {
	for _, rt := range []string{"docker", "podman", "nerdctl"} {
		if _, err := exec.LookPath(rt); err == nil {
			return rt
		}
	}
	return ""
}
