package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	config  *container.Config
	host    *container.HostConfig
	removed []string
	exit    int64
	waitErr error
	stdout  string
	stderr  string
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.config, f.host = config, host
	return container.CreateResponse{ID: "c-1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- container.WaitResponse{StatusCode: f.exit}
	}
	return statusCh, errCh
}

// ContainerLogs multiplexes the two streams the way the daemon does.
func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout)); err != nil {
			return nil, err
		}
	}
	if f.stderr != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr)); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) Close() error { return nil }

func TestDockerEngine_Run(t *testing.T) {
	t.Setenv("PATH", "/host/bin")
	t.Setenv("HOME", "/home/ops")
	cli := &fakeDocker{exit: 3, stdout: "ARTIFACT_PATH=report/x.pdf\n", stderr: "warning: slow\n"}
	e := newDockerEngine(cli, "python:3.12-slim", nil)
	var console bytes.Buffer

	res, err := e.Run(context.Background(), Command{
		Name:    "fetch",
		Program: "python",
		Args:    []string{"scripts/rtm_export.py"},
		Dir:     t.TempDir(),
		Env:     map[string]string{"RTM_TOKEN": "t", "JIRA_BASE": "https://rtm.example.com"},
		Console: &console,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"JIRA_BASE=https://rtm.example.com", "RTM_TOKEN=t"}, cli.config.Env,
		"host variables stay out of the container")
	assert.Equal(t, []string{"python", "scripts/rtm_export.py"}, []string(cli.config.Cmd))
	assert.Equal(t, "python:3.12-slim", cli.config.Image)
	assert.Equal(t, containerWorkdir, cli.config.WorkingDir)
	require.Len(t, cli.host.Binds, 1)
	assert.Contains(t, cli.host.Binds[0], ":"+containerWorkdir)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "ARTIFACT_PATH=report/x.pdf\n", res.Stdout)
	assert.Equal(t, "warning: slow\n", res.Stderr)
	assert.Contains(t, res.Tail, "warning: slow")
	assert.Contains(t, console.String(), "ARTIFACT_PATH=report/x.pdf")
	assert.Equal(t, []string{"c-1"}, cli.removed)
}

func TestDockerEngine_ShellAndWaitError(t *testing.T) {
	cli := &fakeDocker{waitErr: errors.New("daemon gone")}
	e := newDockerEngine(cli, "python:3.12-slim", nil)

	res, err := e.Run(context.Background(), Command{Shell: "make report", Dir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, []string{"sh", "-c", "make report"}, []string(cli.config.Cmd))
	assert.Empty(t, cli.config.Env)
	assert.Equal(t, []string{"c-1"}, cli.removed, "container is removed even when the wait fails")
}

func TestExplicitEnv(t *testing.T) {
	t.Setenv("PATH", "/host/bin")
	assert.Equal(t, []string{"A=1", "B=2"}, ExplicitEnv(map[string]string{"B": "2", "A": "1"}))
	assert.Contains(t, BuildEnv(map[string]string{"A": "1"}), "PATH=/host/bin")
}
