// Package runner is the single place where external programs are started.
// Stages describe what to run with a Command; an Engine runs it either as a
// local process or inside a container.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Command describes one external invocation.
type Command struct {
	Name    string   // stage name, only used for logging
	Program string   // executable; relative paths resolve against Dir
	Args    []string // arguments, ignored when Shell is set
	Shell   string   // script run through the platform shell instead of Program
	Dir     string
	Env     map[string]string // explicit child environment; local processes also get the host allow-list
	Timeout time.Duration
	Console io.Writer // receives stdout and stderr as they are produced
}

// Result is what the process left behind. A non-zero ExitCode is not an
// error; errors are reserved for "could not run or was interrupted".
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Tail     string
	Duration time.Duration
}

type Engine interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// inheritedEnv is the allow-list of host variables a child process sees.
var inheritedEnv = []string{
	"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "TZ",
	"SYSTEMROOT", "SYSTEMDRIVE", "COMSPEC", "PATHEXT", "TEMP", "TMP",
	"USERPROFILE", "APPDATA", "LOCALAPPDATA", "WINDIR",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "SSL_CERT_FILE", "REQUESTS_CA_BUNDLE",
}

// BuildEnv returns the child environment: allow-listed host values plus
// explicit, sorted by key so invocations are reproducible.
func BuildEnv(explicit map[string]string) []string {
	merged := make(map[string]string, len(inheritedEnv)+len(explicit))
	for _, k := range inheritedEnv {
		if v, ok := os.LookupEnv(k); ok {
			merged[k] = v
		}
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return sortedEnv(merged)
}

// ExplicitEnv is explicit alone, sorted. Containers get nothing from the host.
func ExplicitEnv(explicit map[string]string) []string {
	return sortedEnv(explicit)
}

func sortedEnv(merged map[string]string) []string {
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// ProcessEngine runs commands as local child processes.
type ProcessEngine struct {
	logger    *zap.Logger
	tailLines int
}

func NewProcessEngine(logger *zap.Logger) *ProcessEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessEngine{logger: logger, tailLines: DefaultTailLines}
}

func (e *ProcessEngine) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	program, args := c.Program, c.Args
	if c.Shell != "" {
		program, args = shellCommand(c.Shell)
	}
	if program == "" {
		return nil, errors.New("runner: empty command")
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = c.Dir
	cmd.Env = BuildEnv(c.Env)
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	tail := NewTailWriter(e.tailLines)
	outWriters := []io.Writer{&stdout, tail}
	errWriters := []io.Writer{&stderr, tail}
	if c.Console != nil {
		outWriters = append(outWriters, c.Console)
		errWriters = append(errWriters, c.Console)
	}
	cmd.Stdout = io.MultiWriter(outWriters...)
	cmd.Stderr = io.MultiWriter(errWriters...)

	e.logger.Info("start command",
		zap.String("stage", c.Name),
		zap.String("program", program),
		zap.Strings("args", args),
		zap.String("dir", c.Dir),
	)
	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Tail:     tail.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, fmt.Errorf("command %s interrupted after %s: %w", program, res.Duration.Round(time.Millisecond), ctx.Err())
	case runErr == nil:
		res.ExitCode = 0
	case errors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("command %s: %w", program, runErr)
	}

	e.logger.Info("command finished",
		zap.String("stage", c.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
