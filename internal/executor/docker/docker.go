package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sakif/code-runner/internal/executor"
)

// apiClient is the subset of the Docker SDK the runtime uses.
type apiClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerWait(ctx context.Context, container string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerKill(ctx context.Context, container, signal string) error
	ContainerRemove(ctx context.Context, container string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Runtime implements executor.Runtime on the Docker Engine API.
type Runtime struct {
	cli    apiClient
	config Config
	logger *slog.Logger
}

var _ executor.Runtime = (*Runtime)(nil)

// New creates a Docker runtime and initializes the connection.
func New(cfg Config, logger *slog.Logger) (*Runtime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{cli: cli, config: cfg, logger: logger}, nil
}

// Close releases the docker client.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

// EnsureImages pulls every image that is not present locally. A failed pull is
// logged and skipped; executions for that language fail at create time instead.
func (r *Runtime) EnsureImages(ctx context.Context, images []string) {
	if !r.config.PullImages {
		return
	}
	for _, ref := range images {
		present, err := r.imagePresent(ctx, ref)
		if err != nil {
			r.logger.Warn("failed to inspect local images", slog.String("image", ref), slog.String("error", err.Error()))
		}
		if present {
			continue
		}
		if err := r.pull(ctx, ref); err != nil {
			r.logger.Error("failed to pull image", slog.String("image", ref), slog.String("error", err.Error()))
			continue
		}
	}
}

func (r *Runtime) imagePresent(ctx context.Context, ref string) (bool, error) {
	list, err := r.cli.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("reference", ref))})
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

func (r *Runtime) pull(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.PullTimeout)
	defer cancel()

	r.logger.Info("pulling docker image", slog.String("image", ref))
	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	r.logger.Info("docker image is ready", slog.String("image", ref))
	return nil
}

// Create provisions a stopped container for spec.
func (r *Runtime) Create(ctx context.Context, spec executor.UnitSpec) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx, containerConfig(spec), hostConfig(spec), nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn("container create warning", slog.String("name", spec.Name), slog.String("warning", w))
	}
	return resp.ID, nil
}

func containerConfig(spec executor.UnitSpec) *container.Config {
	return &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkDir,
		User:            spec.Limits.User,
		Labels:          spec.Labels,
		Tty:             false,
		OpenStdin:       false,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}
}

func hostConfig(spec executor.UnitSpec) *container.HostConfig {
	l := spec.Limits
	pids := l.PidsLimit

	tmpfs := "rw,nosuid,size=64m"
	if l.TmpfsSize != "" {
		tmpfs = "rw,nosuid,size=" + l.TmpfsSize
	}

	return &container.HostConfig{
		Binds:       []string{spec.HostDir + ":" + spec.WorkDir + ":rw"},
		NetworkMode: "none",
		AutoRemove:  true,
		Resources: container.Resources{
			Memory:     l.MemoryBytes,
			MemorySwap: l.MemoryBytes, // equal to Memory: no swap
			CPUQuota:   l.CPUQuota,
			CPUPeriod:  l.CPUPeriod,
			PidsLimit:  &pids,
		},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": tmpfs},
	}
}

type hijackedStream struct {
	resp types.HijackedResponse
}

func (h hijackedStream) Read(p []byte) (int, error) { return h.resp.Reader.Read(p) }

func (h hijackedStream) Close() error {
	h.resp.Close()
	return nil
}

// Attach opens the multiplexed stdout/stderr stream.
func (r *Runtime) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ContainerAttach failed: %w", err)
	}
	return hijackedStream{resp: resp}, nil
}

// Wait reports when the container has exited and been auto-removed.
func (r *Runtime) Wait(ctx context.Context, id string) <-chan executor.ExitStatus {
	out := make(chan executor.ExitStatus, 1)
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionRemoved)
	go func() {
		select {
		case st := <-statusCh:
			var err error
			if st.Error != nil && st.Error.Message != "" {
				err = fmt.Errorf("container wait: %s", st.Error.Message)
			}
			out <- executor.ExitStatus{Code: st.StatusCode, Err: err}
		case err := <-errCh:
			out <- executor.ExitStatus{Code: -1, Err: err}
		}
	}()
	return out
}

func (r *Runtime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("ContainerStart failed: %w", err)
	}
	return nil
}

// Kill sends SIGKILL. A container that already stopped is not an error.
func (r *Runtime) Kill(ctx context.Context, id string) error {
	err := r.cli.ContainerKill(ctx, id, "KILL")
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
		return nil
	}
	return fmt.Errorf("ContainerKill failed: %w", err)
}

// Remove force removes a container by ID. An in-progress auto-removal counts
// as success.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err == nil || cerrdefs.IsNotFound(err) || cerrdefs.IsConflict(err) {
		return nil
	}
	return fmt.Errorf("ContainerRemove failed: %w", err)
}

// List returns every container carrying the managed label, running or not.
func (r *Runtime) List(ctx context.Context) ([]executor.UnitInfo, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", executor.LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("ContainerList failed: %w", err)
	}

	infos := make([]executor.UnitInfo, 0, len(list))
	for _, c := range list {
		infos = append(infos, executor.UnitInfo{
			ID:          c.ID,
			ExecutionID: c.Labels[executor.LabelExecutionID],
			Created:     time.Unix(c.Created, 0),
		})
	}
	return infos, nil
}

// Ping checks that the daemon answers.
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}
