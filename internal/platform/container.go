package platform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bld-ci/bld/internal/blderr"
)

var _ Driver = (*Container)(nil)

// ContainerSpec describes how to obtain the image a Container runs in.
type ContainerSpec struct {
	// Image is pulled as-is when Dockerfile is empty.
	Image string

	// Dockerfile, when set, is built to produce the image used for the
	// run instead of pulling Image.
	Dockerfile string

	// BuildContext is the directory passed to `docker build`. Defaults
	// to the directory containing Dockerfile.
	BuildContext string

	// RegistryToken, when non-empty together with Registry, is piped to
	// `docker login` (as RegistryUser) before the pull so a private
	// registry image can be retrieved.
	RegistryToken string
	RegistryUser  string
	Registry      string
}

// Container is the docker-backed platform variant. It shells out to the
// docker CLI rather than linking a container runtime SDK, matching the
// invocation style the rest of the pack uses for external tools.
type Container struct {
	name string

	mu        sync.Mutex
	started   bool
	keptAlive bool
}

// NewContainer resolves spec (pulling or building as needed) and starts
// a long-lived container that Shell execs into and Push/Get copy
// through.
func NewContainer(ctx context.Context, spec ContainerSpec, name string) (*Container, error) {
	image := spec.Image
	if spec.Registry != "" && spec.RegistryToken != "" {
		if err := dockerLogin(ctx, spec.Registry, spec.RegistryUser, spec.RegistryToken); err != nil {
			return nil, &blderr.PlatformError{Op: "container-login", Cause: err}
		}
	}

	if spec.Dockerfile != "" {
		buildCtx := spec.BuildContext
		if buildCtx == "" {
			buildCtx = filepath.Dir(spec.Dockerfile)
		}
		tag := "bld-run-" + name
		if err := dockerRun(ctx, "build", "-f", spec.Dockerfile, "-t", tag, buildCtx); err != nil {
			return nil, &blderr.PlatformError{Op: "container-build", Cause: err}
		}
		image = tag
	} else {
		if err := dockerRun(ctx, "pull", image); err != nil {
			return nil, &blderr.PlatformError{Op: "container-pull", Cause: err}
		}
	}

	if err := dockerRun(ctx, "run", "-d", "--name", name, image, "tail", "-f", "/dev/null"); err != nil {
		return nil, &blderr.PlatformError{Op: "container-start", Cause: err}
	}

	c := &Container{name: name, started: true}
	return c, nil
}

func (c *Container) Push(ctx context.Context, from, to string) error {
	if err := dockerRun(ctx, "cp", from, c.name+":"+to); err != nil {
		return &blderr.PlatformError{Op: "container-push", Cause: err}
	}
	return nil
}

func (c *Container) Get(ctx context.Context, from, to string) error {
	if err := dockerRun(ctx, "cp", c.name+":"+from, to); err != nil {
		return &blderr.PlatformError{Op: "container-get", Cause: err}
	}
	return nil
}

func (c *Container) Shell(ctx context.Context, workingDir, cmdline string, stop StopChecker, sink LineSink) error {
	args := []string{"exec"}
	if workingDir != "" {
		args = append(args, "-w", workingDir)
	}
	args = append(args, c.name, "sh", "-c", cmdline)

	cmd := exec.CommandContext(ctx, "docker", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &blderr.PlatformError{Op: "container-shell", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &blderr.PlatformError{Op: "container-shell", Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return &blderr.PlatformError{Op: "container-shell", Cause: err}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdout, sink, &wg)
	go streamLines(stderr, sink, &wg)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			wg.Wait()
			if err == nil {
				return nil
			}
			return &blderr.Failed{Cause: err}
		case <-ticker.C:
			if stop == nil {
				continue
			}
			if cErr := stop.CheckStop(ctx); cErr != nil {
				_ = cmd.Process.Kill()
				<-done
				wg.Wait()
				_ = dockerRun(context.Background(), "exec", c.name, "pkill", "-TERM", "-f", cmdline)
				return cErr
			}
		}
	}
}

func (c *Container) KeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keptAlive = true
}

// Dispose stops and removes the container unless a child runner shares
// it (inChild) or KeepAlive was called since the last Dispose. The
// keep-alive mark is consumed here, not latched permanently, so a
// later Dispose call at the true top level still tears the container
// down once every child runner has released its own hold on it.
func (c *Container) Dispose(ctx context.Context, inChild bool) error {
	c.mu.Lock()
	kept := c.keptAlive
	c.keptAlive = false
	c.mu.Unlock()

	if inChild || kept {
		return nil
	}
	if err := dockerRun(ctx, "rm", "-f", c.name); err != nil {
		return &blderr.PlatformError{Op: "container-dispose", Cause: err}
	}
	return nil
}

// dockerLogin pipes token over stdin so it never appears in the
// process argument list.
func dockerLogin(ctx context.Context, registry, user, token string) error {
	cmd := exec.CommandContext(ctx, "docker", "login", registry, "-u", user, "--password-stdin")
	cmd.Stdin = strings.NewReader(token)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

func dockerRun(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}
