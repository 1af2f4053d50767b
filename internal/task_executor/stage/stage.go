// Package stage implements the seven steps of a report run. Each stage is
// one external invocation (or a small amount of in-process work) and maps
// its failure onto a single error kind.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/credential"
	"rtmpipe/internal/task_executor/runner"
	"rtmpipe/pkg/queue"
)

const (
	Validate  = "validate"
	Checkout  = "checkout"
	Provision = "provision"
	Fetch     = "fetch"
	Render    = "render"
	Publish   = "publish"
	Notify    = "notify"
)

// Order is the fixed stage sequence.
var Order = []string{Validate, Checkout, Provision, Fetch, Render, Publish, Notify}

type Kind string

const (
	KindAuthorization Kind = "AuthorizationError"
	KindCheckout      Kind = "CheckoutError"
	KindBootstrap     Kind = "BootstrapError"
	KindFetch         Kind = "FetchError"
	KindParse         Kind = "ParseError"
	KindRender        Kind = "RenderError"
	KindPublish       Kind = "PublishError"
	KindNotify        Kind = "NotifyError"
	KindCanceled      Kind = "Canceled"

	// KindCredential is a secret store that could not be read. Only a
	// rejected trigger token is an AuthorizationError.
	KindCredential Kind = "CredentialError"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// StageError is the only error a stage returns.
type StageError struct {
	Stage    string
	Kind     Kind
	ExitCode int
	Tail     string
	Err      error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Stage, e.Kind)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func fail(stage string, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Report is what a finished stage leaves for the run history.
type Report struct {
	Status   string
	ExitCode int
	Tail     string
}

type Stage interface {
	Name() string
	Run(ctx context.Context, r *Run) (Report, error)
}

// Run carries everything the stages of one execution share. Params and
// Creds are read-only; the remaining fields are filled in as stages finish.
type Run struct {
	ID        string
	Workspace string
	Params    queue.Params
	Pipeline  *queue.PipelineConfig
	Creds     *credential.Bindings
	Engine    runner.Engine
	Console   io.Writer
	Logger    *zap.Logger
	TokenMode string
	Clean     []string

	Python       string   // interpreter inside the provisioned runtime, relative to Workspace
	DataPath     string   // data artifact written by fetch
	ArtifactPath string   // path announced by fetch in marker mode
	Reports      []string // report files checked after render
	PageURL      string   // wiki page reported by publish
}

func (r *Run) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Run) creds() *credential.Bindings {
	if r.Creds == nil {
		return &credential.Bindings{}
	}
	return r.Creds
}

func (r *Run) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.Workspace, p)
}

// ResultFile is the structured result a stage may write.
func (r *Run) ResultFile(stage string) string {
	return filepath.Join(".rtmpipe", "result-"+stage+".json")
}

// Recipients is the normalized recipient list.
func (r *Run) Recipients() []string {
	return common.SplitRecipients(r.Params.Recipients)
}

// ReportPath is the primary report for publishing and mailing.
func (r *Run) ReportPath() string {
	if len(r.Reports) > 0 {
		return r.Reports[0]
	}
	return r.ArtifactPath
}

func (r *Run) python() string {
	if r.Python != "" {
		return r.Python
	}
	return r.Pipeline.Stages.Provision.Python
}

// vars are the placeholders usable in stage commands and texts.
func (r *Run) vars() map[string]string {
	return map[string]string{
		"PYTHON":        r.python(),
		"RUN_ID":        r.ID,
		"PROJECT_KEY":   r.Params.ProjectKey,
		"EXECUTION_KEY": r.Params.ExecutionKey,
		"REPORT_FORMAT": r.Params.ReportFormat,
		"DATA_PATH":     r.DataPath,
		"REPORT_DIR":    r.Pipeline.Stages.Render.ReportDir,
		"ARTIFACT_PATH": r.ArtifactPath,
		"REPORT_PATH":   r.ReportPath(),
	}
}

// Expand substitutes ${NAME} placeholders; unknown names are left as is.
func (r *Run) Expand(s string) string {
	vars := r.vars()
	return os.Expand(s, func(k string) string {
		if v, ok := vars[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}

// baseEnv is the environment every script stage receives.
func (r *Run) baseEnv(stage string) map[string]string {
	env := map[string]string{
		"PYTHONIOENCODING":    "utf-8",
		"PYTHONUTF8":          "1",
		"RTM_PROJECT_KEY":     r.Params.ProjectKey,
		"RTM_EXECUTION_KEY":   r.Params.ExecutionKey,
		"REPORT_FORMAT":       r.Params.ReportFormat,
		"RTMPIPE_RUN_ID":      r.ID,
		"RTMPIPE_RESULT_FILE": filepath.ToSlash(r.ResultFile(stage)),
	}
	if r.DataPath != "" {
		env["RTM_OUTPUT_JSON"] = filepath.ToSlash(r.DataPath)
	}
	if r.ArtifactPath != "" {
		env["ARTIFACT_PATH"] = filepath.ToSlash(r.ArtifactPath)
	}
	if p := r.ReportPath(); p != "" {
		env["REPORT_PATH"] = filepath.ToSlash(p)
	}
	return env
}

func setSecret(env map[string]string, key string, s credential.Secret) {
	if !s.IsZero() {
		env[key] = s.Reveal()
	}
}

// invoke runs a configured stage command. Non-zero exits become kind; an
// interrupted context becomes Canceled.
func (r *Run) invoke(ctx context.Context, stage string, kind Kind, sc queue.StageCommand, env map[string]string) (*runner.Result, error) {
	cmd := runner.Command{
		Name:    stage,
		Dir:     r.Workspace,
		Env:     env,
		Timeout: sc.Timeout,
		Console: r.Console,
	}
	if sc.Shell != "" {
		cmd.Shell = r.Expand(sc.Shell)
	} else {
		if len(sc.Command) == 0 {
			return nil, fail(stage, kind, errors.New("no command configured"))
		}
		cmd.Program = r.Expand(sc.Command[0])
		for _, a := range sc.Command[1:] {
			cmd.Args = append(cmd.Args, r.Expand(a))
		}
	}

	if r.Console != nil {
		fmt.Fprintf(r.Console, "==> %s\n", stage)
	}
	res, err := r.Engine.Run(ctx, cmd)
	if err != nil {
		se := fail(stage, kind, err)
		if ctx.Err() != nil {
			se.Kind = KindCanceled
		}
		if res != nil {
			se.ExitCode = res.ExitCode
			se.Tail = res.Tail
		}
		return res, se
	}
	if res.ExitCode != 0 {
		return res, &StageError{
			Stage:    stage,
			Kind:     kind,
			ExitCode: res.ExitCode,
			Tail:     res.Tail,
			Err:      errors.New("exited with code " + strconv.Itoa(res.ExitCode)),
		}
	}
	return res, nil
}

// prepareResultFile clears a stale result so a fresh run never reads one
// left behind by an earlier invocation.
func (r *Run) prepareResultFile(stage string) error {
	p := r.path(r.ResultFile(stage))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func reportOf(res *runner.Result) Report {
	if res == nil {
		return Report{Status: StatusSuccess}
	}
	return Report{Status: StatusSuccess, ExitCode: res.ExitCode, Tail: strings.TrimSpace(res.Tail)}
}

// Pipeline returns the stages in execution order.
func Pipeline() []Stage {
	return []Stage{
		&Validator{},
		&Checkouter{},
		&Provisioner{},
		&Fetcher{},
		&Renderer{},
		&Publisher{},
		&Notifier{},
	}
}
