//go:build !windows

package runner

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessEngine_Success(t *testing.T) {
	e := NewProcessEngine(nil)
	var console bytes.Buffer

	res, err := e.Run(context.Background(), Command{
		Name:    "fetch",
		Shell:   "echo hello world",
		Dir:     t.TempDir(),
		Console: &console,
	})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello world")
	assert.Empty(t, res.Stderr)
	assert.Contains(t, console.String(), "hello world")
}

func TestProcessEngine_NonZeroExitIsNotAnError(t *testing.T) {
	e := NewProcessEngine(nil)

	res, err := e.Run(context.Background(), Command{
		Shell: "echo boom >&2; exit 3",
		Dir:   t.TempDir(),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "boom")
	assert.Contains(t, res.Tail, "boom")
}

func TestProcessEngine_ExplicitEnvOnly(t *testing.T) {
	t.Setenv("RTMPIPE_AMBIENT_SECRET", "leak")
	e := NewProcessEngine(nil)

	res, err := e.Run(context.Background(), Command{
		Program: "/bin/sh",
		Args:    []string{"-c", `echo "v=$RTM_PROJECT_KEY a=$RTMPIPE_AMBIENT_SECRET"`},
		Dir:     t.TempDir(),
		Env:     map[string]string{"RTM_PROJECT_KEY": "QA"},
	})

	require.NoError(t, err)
	assert.Equal(t, "v=QA a=", strings.TrimSpace(res.Stdout))
}

func TestProcessEngine_Timeout(t *testing.T) {
	e := NewProcessEngine(nil)

	res, err := e.Run(context.Background(), Command{
		Shell:   "sleep 5",
		Dir:     t.TempDir(),
		Timeout: 100 * time.Millisecond,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, res.ExitCode)
}

func TestProcessEngine_MissingProgram(t *testing.T) {
	e := NewProcessEngine(nil)

	_, err := e.Run(context.Background(), Command{
		Program: "definitely-not-a-real-binary-rtmpipe",
		Dir:     t.TempDir(),
	})

	require.Error(t, err)
}

func TestBuildEnvIsSortedAndExplicitWins(t *testing.T) {
	t.Setenv("HOME", "/home/ci")
	env := BuildEnv(map[string]string{"HOME": "/override", "A_KEY": "1"})

	assert.Contains(t, env, "HOME=/override")
	assert.Contains(t, env, "A_KEY=1")
	assert.True(t, sort.StringsAreSorted(env))
}

func TestTailWriterKeepsLastLines(t *testing.T) {
	w := NewTailWriter(2)
	_, _ = w.Write([]byte("one\ntwo\nthree\nfour"))

	assert.Equal(t, "three\nfour", w.String())
}
