package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerClient wraps the Docker SDK client with the operations the scorer needs.
type DockerClient struct {
	client *client.Client
}

// NewDockerClient creates a new Docker client and verifies the daemon is accessible.
func NewDockerClient() (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &DockerClient{client: cli}, nil
}

// Close closes the Docker client.
func (d *DockerClient) Close() error {
	return d.client.Close()
}

// EnsureImage ensures an image is available locally, pulling if allowed.
func (d *DockerClient) EnsureImage(ctx context.Context, imageName string, autoPull bool) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return nil
			}
		}
	}

	if !autoPull {
		return fmt.Errorf("image %s not found locally and auto-pull is disabled", imageName)
	}

	reader, err := d.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}
	return nil
}

// startWorkspaceContainer creates and starts an idle container with the
// workspace bind-mounted at workdir.
func (d *DockerClient) startWorkspaceContainer(ctx context.Context, imageName, workspace, workdir string, env []string) (string, error) {
	containerCfg := &container.Config{
		Image:      imageName,
		Cmd:        []string{"sleep", "infinity"},
		Env:        env,
		WorkingDir: workdir,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: workdir,
		}},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("starting container: %w", err)
	}
	return resp.ID, nil
}

// exec runs argv in a running container. A timeout yields a Result with
// TimedOut set rather than an error.
func (d *DockerClient) exec(ctx context.Context, containerID string, argv []string, workdir string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	execResp, err := d.client.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attachResp, err := d.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to exec: %w", err)
	}

	// stdcopy.StdCopy blocks until EOF and ignores the context, so it runs in
	// its own goroutine and the connection is closed on timeout.
	var stdout, stderr bytes.Buffer
	var bufMu sync.Mutex
	copyDone := make(chan error, 1)

	go func() {
		bufMu.Lock()
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		bufMu.Unlock()
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		attachResp.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-execCtx.Done():
		attachResp.Close()
		<-copyDone
		if ctx.Err() != nil {
			return nil, fmt.Errorf("exec %s: %w", strings.Join(argv, " "), ctx.Err())
		}
		bufMu.Lock()
		defer bufMu.Unlock()
		return &Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   TimedOutMessage,
			Duration: time.Since(start),
			TimedOut: true,
		}, nil
	}

	// The process has finished; a fresh context keeps inspect independent of
	// how close execCtx is to expiring.
	inspectCtx, inspectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer inspectCancel()

	for {
		inspectResp, err := d.client.ContainerExecInspect(inspectCtx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspectResp.Running {
			res := &Result{
				ExitCode: inspectResp.ExitCode,
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				Duration: time.Since(start),
			}
			// 127 is the shell convention for a missing executable.
			if res.ExitCode == 127 || (res.ExitCode == 126 && strings.Contains(res.Stderr, "not found")) {
				res.ExitCode = -1
				res.NotFound = true
				res.Stderr = notFoundPrefix + argv[0]
			}
			return res, nil
		}

		select {
		case <-inspectCtx.Done():
			return nil, fmt.Errorf("timeout waiting for exec exit code")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// DockerOptions configures a DockerExecutor.
type DockerOptions struct {
	Image    string
	AutoPull bool
	Workdir  string // Container mount point of the workspace
	Env      []string
}

// DockerExecutor runs commands inside one container that bind-mounts a workspace.
type DockerExecutor struct {
	docker      *DockerClient
	containerID string
	hostRoot    string
	workdir     string
	logger      *slog.Logger
}

// NewDockerExecutor starts a container for workspace and returns an executor
// bound to it. Close removes the container.
func NewDockerExecutor(ctx context.Context, opts DockerOptions, workspace string, logger *slog.Logger) (*DockerExecutor, error) {
	hostRoot, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	docker, err := NewDockerClient()
	if err != nil {
		return nil, err
	}
	if err := docker.EnsureImage(ctx, opts.Image, opts.AutoPull); err != nil {
		_ = docker.Close()
		return nil, err
	}

	id, err := docker.startWorkspaceContainer(ctx, opts.Image, hostRoot, opts.Workdir, opts.Env)
	if err != nil {
		_ = docker.Close()
		return nil, err
	}
	logger.Debug("started scoring container", "id", shortID(id), "image", opts.Image, "workspace", hostRoot)

	return &DockerExecutor{
		docker:      docker,
		containerID: id,
		hostRoot:    hostRoot,
		workdir:     opts.Workdir,
		logger:      logger,
	}, nil
}

// Run executes cmd in the container, translating the host directory into the
// container mount.
func (e *DockerExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	dir, err := e.containerPath(cmd.Dir)
	if err != nil {
		return nil, err
	}
	argv := cmd.Argv
	if len(cmd.Env) > 0 {
		argv = append(append([]string{"env"}, cmd.Env...), argv...)
	}
	return e.docker.exec(ctx, e.containerID, argv, dir, cmd.Timeout)
}

func (e *DockerExecutor) containerPath(hostDir string) (string, error) {
	if hostDir == "" {
		return e.workdir, nil
	}
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", hostDir, err)
	}
	rel, err := filepath.Rel(e.hostRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("directory %s is outside the mounted workspace %s", hostDir, e.hostRoot)
	}
	return path.Join(e.workdir, filepath.ToSlash(rel)), nil
}

// Close removes the container and closes the client.
func (e *DockerExecutor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.docker.client.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true})
	if cerr := e.docker.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
