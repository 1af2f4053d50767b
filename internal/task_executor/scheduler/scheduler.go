package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rtmpipe/internal/credential"
	"rtmpipe/internal/task_executor/artifact"
	"rtmpipe/internal/task_executor/runner"
	"rtmpipe/internal/task_executor/stage"
	"rtmpipe/pkg/queue"
)

type State string

const (
	StatePending      State = "Pending"
	StateValidating   State = "Validating"
	StateCheckingOut  State = "CheckingOut"
	StateProvisioning State = "Provisioning"
	StateFetching     State = "Fetching"
	StateRendering    State = "Rendering"
	StatePublishing   State = "Publishing"
	StateNotifying    State = "Notifying"
	StateSucceeded    State = "Succeeded"
	StateFailed       State = "Failed"
)

var stageStates = map[string]State{
	stage.Validate:  StateValidating,
	stage.Checkout:  StateCheckingOut,
	stage.Provision: StateProvisioning,
	stage.Fetch:     StateFetching,
	stage.Render:    StateRendering,
	stage.Publish:   StatePublishing,
	stage.Notify:    StateNotifying,
}

// StatusUpdate 状态变更通知，每次流水线或阶段状态变化时推送
type StatusUpdate struct {
	RunID       string
	TriggerType string
	Params      queue.Params
	State       State
	Stage       string // empty for run level updates
	StageStatus string
	ExitCode    int
	Tail        string
	FailedStage string
	Kind        stage.Kind
	Error       string
	ArchiveDir  string
	Time        time.Time
}

type StageOutcome struct {
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exit_code"`
	Tail      string    `json:"tail,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Outcome 一次流水线执行的最终结果
type Outcome struct {
	RunID        string         `json:"run_id"`
	TriggerType  string         `json:"trigger_type"`
	Params       queue.Params   `json:"params"`
	State        State          `json:"state"`
	FailedStage  string         `json:"failed_stage,omitempty"`
	Kind         stage.Kind     `json:"kind,omitempty"`
	Error        string         `json:"error,omitempty"`
	Stages       []StageOutcome `json:"stages"`
	Artifacts    []string       `json:"artifacts,omitempty"`
	ArchiveDir   string         `json:"archive_dir,omitempty"`
	ArchiveError string         `json:"archive_error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`

	err error
}

// Err is the *stage.StageError that failed the run, nil on success.
func (o *Outcome) Err() error {
	return o.err
}

// Config 调度器的固定配置
type Config struct {
	Workspace string
	Clean     []string
	LockFile  string
	TokenMode string
}

type Option func(*PipelineScheduler)

// WithConsole mirrors stage output to w in addition to console.log.
func WithConsole(w io.Writer) Option {
	return func(s *PipelineScheduler) { s.console = w }
}

func WithStatusCallback(fn func(*StatusUpdate) error) Option {
	return func(s *PipelineScheduler) { s.statusCallback = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *PipelineScheduler) { s.logger = l }
}

// WithStages replaces the standard stage list.
func WithStages(stages ...stage.Stage) Option {
	return func(s *PipelineScheduler) { s.stages = stages }
}

// PipelineScheduler 流水线调度器，按固定顺序逐个执行阶段
type PipelineScheduler struct {
	engine         runner.Engine
	pipeline       *queue.PipelineConfig
	creds          credential.Provider
	archiver       *artifact.Archiver
	cfg            Config
	stages         []stage.Stage
	console        io.Writer
	statusCallback func(*StatusUpdate) error
	logger         *zap.Logger
}

var ErrWorkspaceBusy = errors.New("workspace is locked by another run")

// NewPipelineScheduler 创建新的流水线调度器
func NewPipelineScheduler(engine runner.Engine, pipeline *queue.PipelineConfig, creds credential.Provider, archiver *artifact.Archiver, cfg Config, opts ...Option) *PipelineScheduler {
	s := &PipelineScheduler{
		engine:   engine,
		pipeline: pipeline,
		creds:    creds,
		archiver: archiver,
		cfg:      cfg,
		stages:   stage.Pipeline(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipeline returns the definition runs are scheduled with.
func (s *PipelineScheduler) Pipeline() *queue.PipelineConfig {
	return s.pipeline
}

func (s *PipelineScheduler) notify(u *StatusUpdate) {
	if s.statusCallback == nil {
		return
	}
	u.Time = time.Now()
	if err := s.statusCallback(u); err != nil {
		s.logger.Warn("status callback failed", zap.String("run_id", u.RunID), zap.Error(err))
	}
}

func redacted(p queue.Params) queue.Params {
	if p.TriggerToken != "" {
		p.TriggerToken = "******"
	}
	return p
}

// SchedulePipeline 调度并执行整个流水线。返回的 error 仅表示运行无法开始，
// 阶段失败记录在 Outcome 中。
func (s *PipelineScheduler) SchedulePipeline(ctx context.Context, req *queue.RunRequest) (*Outcome, error) {
	params := req.Params.WithDefaults(s.pipeline.Params)
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := s.pipeline.ValidateParams(params); err != nil {
		return nil, err
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	trigger := req.TriggerType
	if trigger == "" {
		trigger = queue.TriggerManual
	}
	log := s.logger.With(zap.String("run_id", runID))

	// 1. 锁定工作区
	if err := os.MkdirAll(s.cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if s.cfg.LockFile != "" {
		lock, err := acquireLock(filepath.Join(s.cfg.Workspace, s.cfg.LockFile))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn("fail to release workspace lock", zap.Error(err))
			}
		}()
	}

	// 2. 控制台日志直接写入归档目录，失败时也能保留
	runDir, err := s.archiver.RunDir(runID)
	if err != nil {
		return nil, err
	}
	consoleFile, err := os.Create(filepath.Join(runDir, artifact.ConsoleFile))
	if err != nil {
		return nil, fmt.Errorf("creating console log: %w", err)
	}
	defer consoleFile.Close()
	var console io.Writer = consoleFile
	if s.console != nil {
		console = io.MultiWriter(consoleFile, s.console)
	}

	outcome := &Outcome{
		RunID:       runID,
		TriggerType: trigger,
		Params:      redacted(params),
		State:       StatePending,
		ArchiveDir:  runDir,
		StartedAt:   time.Now(),
	}
	for _, st := range s.stages {
		outcome.Stages = append(outcome.Stages, StageOutcome{Stage: st.Name(), Status: stage.StatusPending})
	}
	s.notify(&StatusUpdate{RunID: runID, TriggerType: trigger, Params: outcome.Params, State: StatePending})
	log.Info("run accepted", zap.String("trigger", trigger), zap.String("project", params.ProjectKey), zap.String("execution", params.ExecutionKey))

	run := &stage.Run{
		ID:        runID,
		Workspace: s.cfg.Workspace,
		Params:    params,
		Pipeline:  s.pipeline,
		Engine:    s.engine,
		Console:   console,
		Logger:    s.logger,
		TokenMode: s.cfg.TokenMode,
		Clean:     s.cfg.Clean,
	}

	// 3. 解析凭据，凭据库不可用记为 CredentialError，不是令牌错误
	run.Creds = &credential.Bindings{}
	if s.creds != nil {
		run.Creds, err = credential.Resolve(ctx, s.creds)
	}
	if err != nil {
		outcome.Stages[0].StartedAt = time.Now()
		s.finishStage(outcome, 0, stage.Report{Status: stage.StatusFailed}, time.Now(),
			&stage.StageError{Stage: outcome.Stages[0].Stage, Kind: stage.KindCredential, Err: err})
	} else {
		s.runStages(ctx, outcome, run)
	}

	// 4. 无论成功失败都归档
	s.archive(ctx, outcome, run)
	return outcome, nil
}

func (s *PipelineScheduler) runStages(ctx context.Context, o *Outcome, run *stage.Run) {
	for i, st := range s.stages {
		o.State = stageStates[st.Name()]
		started := time.Now()
		o.Stages[i].Status = stage.StatusRunning
		o.Stages[i].StartedAt = started
		s.notify(&StatusUpdate{RunID: o.RunID, State: o.State, Stage: st.Name(), StageStatus: stage.StatusRunning})

		var (
			rep stage.Report
			err error
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			rep = stage.Report{Status: stage.StatusFailed}
			err = &stage.StageError{Stage: st.Name(), Kind: stage.KindCanceled, Err: ctxErr}
		} else {
			rep, err = st.Run(ctx, run)
		}
		if s.finishStage(o, i, rep, started, err) {
			return
		}
	}
	o.State = StateSucceeded
}

// finishStage records a stage result and reports whether the run failed.
func (s *PipelineScheduler) finishStage(o *Outcome, i int, rep stage.Report, started time.Time, err error) bool {
	so := &o.Stages[i]
	so.Status = rep.Status
	so.ExitCode = rep.ExitCode
	so.Tail = rep.Tail
	if so.StartedAt.IsZero() {
		so.StartedAt = started
	}
	so.EndedAt = time.Now()

	if err != nil {
		var se *stage.StageError
		if !errors.As(err, &se) {
			se = &stage.StageError{Stage: so.Stage, Kind: stage.KindCanceled, Err: err}
		}
		so.Status = stage.StatusFailed
		if so.ExitCode == 0 {
			so.ExitCode = se.ExitCode
		}
		if so.Tail == "" {
			so.Tail = se.Tail
		}
		o.State = StateFailed
		o.FailedStage = se.Stage
		o.Kind = se.Kind
		o.Error = se.Error()
		o.err = se
		for j := i + 1; j < len(o.Stages); j++ {
			o.Stages[j].Status = stage.StatusSkipped
		}
		s.logger.Error("stage failed",
			zap.String("run_id", o.RunID),
			zap.String("stage", se.Stage),
			zap.String("kind", string(se.Kind)),
			zap.Int("exit_code", se.ExitCode),
			zap.String("tail", se.Tail),
		)
	}
	s.notify(&StatusUpdate{
		RunID:       o.RunID,
		State:       o.State,
		Stage:       so.Stage,
		StageStatus: so.Status,
		ExitCode:    so.ExitCode,
		Tail:        so.Tail,
	})
	return err != nil
}

func (s *PipelineScheduler) archive(ctx context.Context, o *Outcome, run *stage.Run) {
	seen := map[string]bool{}
	for _, p := range append([]string{run.DataPath, run.ArtifactPath}, run.Reports...) {
		if p != "" && !seen[p] {
			seen[p] = true
			o.Artifacts = append(o.Artifacts, p)
		}
	}
	o.EndedAt = time.Now()

	// 取消后的归档仍需完成
	if _, err := s.archiver.Archive(context.WithoutCancel(ctx), o.RunID, s.cfg.Workspace, o.Artifacts, o); err != nil {
		o.ArchiveError = err.Error()
	}

	s.notify(&StatusUpdate{
		RunID:       o.RunID,
		State:       o.State,
		FailedStage: o.FailedStage,
		Kind:        o.Kind,
		Error:       o.Error,
		ArchiveDir:  o.ArchiveDir,
	})
	if o.State == StateSucceeded {
		s.logger.Info("run succeeded", zap.String("run_id", o.RunID), zap.Duration("duration", o.EndedAt.Sub(o.StartedAt)))
	} else {
		s.logger.Warn("run failed", zap.String("run_id", o.RunID), zap.String("stage", o.FailedStage), zap.String("kind", string(o.Kind)))
	}
}
