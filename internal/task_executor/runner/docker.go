package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const containerWorkdir = "/workspace"

// dockerAPI is the part of *client.Client the engine drives.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerEngine runs every command in a fresh container with the stage's
// working directory bind-mounted at /workspace. The container sees only the
// command's explicit environment.
type DockerEngine struct {
	cli    dockerAPI
	image  string
	logger *zap.Logger
}

func NewDockerEngine(host, image string, logger *zap.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return newDockerEngine(cli, image, logger), nil
}

func newDockerEngine(cli dockerAPI, image string, logger *zap.Logger) *DockerEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerEngine{cli: cli, image: image, logger: logger}
}

func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

func (d *DockerEngine) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	hostDir, err := filepath.Abs(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	cmdline := append([]string{c.Program}, c.Args...)
	if c.Shell != "" {
		cmdline = []string{"sh", "-c", c.Shell}
	}

	start := time.Now()
	resp, err := d.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:      d.image,
			Cmd:        cmdline,
			Env:        ExplicitEnv(c.Env),
			WorkingDir: containerWorkdir,
		},
		&container.HostConfig{
			Binds: []string{hostDir + ":" + containerWorkdir},
		},
		nil, nil, "",
	)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		// 使用独立的 context，确保超时后容器仍能被删除
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cli.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			d.logger.Warn("fail to remove container", zap.String("container", containerID), zap.Error(err))
		}
	}()

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}
	d.logger.Info("container started", zap.String("stage", c.Name), zap.String("container", containerID))

	res := &Result{}
	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			res.ExitCode = -1
			res.Duration = time.Since(start)
			return res, fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
	}
	res.Duration = time.Since(start)

	out, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return res, fmt.Errorf("fail to get container logs: %w", err)
	}
	defer out.Close()

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	tail := NewTailWriter(DefaultTailLines)
	outW := []io.Writer{stdout, tail}
	errW := []io.Writer{stderr, tail}
	if c.Console != nil {
		outW = append(outW, c.Console)
		errW = append(errW, c.Console)
	}
	if _, err := stdcopy.StdCopy(io.MultiWriter(outW...), io.MultiWriter(errW...), out); err != nil {
		return res, fmt.Errorf("fail to copy container logs: %w", err)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Tail = tail.String()

	d.logger.Info("container finished",
		zap.String("stage", c.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
