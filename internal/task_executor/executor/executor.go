// Package executor assembles a pipeline scheduler from the loaded
// configuration.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/credential"
	"rtmpipe/internal/server/dao"
	"rtmpipe/internal/task_executor/artifact"
	"rtmpipe/internal/task_executor/runner"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/pkg/queue"
)

type Options struct {
	Console io.Writer // mirrors stage output, e.g. os.Stdout for one-shot runs
	History bool      // record runs in the history database, opening it if needed
}

// Executor owns the scheduler and the resources behind it.
type Executor struct {
	Scheduler *scheduler.PipelineScheduler
	Pipeline  *queue.PipelineConfig
	closers   []io.Closer
}

func (e *Executor) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func NewEngine(cfg common.EngineConfig, logger *zap.Logger) (runner.Engine, io.Closer, error) {
	if cfg.Kind == "docker" {
		engine, err := runner.NewDockerEngine(cfg.DockerHost, cfg.DockerImage, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("docker engine: %w", err)
		}
		return engine, engine, nil
	}
	return runner.NewProcessEngine(logger), nil, nil
}

func NewArchiver(ctx context.Context, cfg common.ArchiveConfig, logger *zap.Logger) (*artifact.Archiver, error) {
	var uploader artifact.Uploader
	if cfg.S3Bucket != "" {
		s3, err := artifact.NewS3Uploader(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, fmt.Errorf("s3 uploader: %w", err)
		}
		uploader = s3
	}
	return artifact.NewArchiver(cfg.Dir, cfg.Include, uploader, logger), nil
}

// New builds an executor for cfg. The pipeline definition is read from
// cfg.Pipeline.
func New(ctx context.Context, cfg common.Config, logger *zap.Logger, opts Options) (*Executor, error) {
	pipeline, err := queue.LoadPipelineConfig(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	e := &Executor{Pipeline: pipeline}
	engine, closer, err := NewEngine(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		e.closers = append(e.closers, closer)
	}

	creds, err := credential.New(ctx, cfg.Credentials)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("credential provider: %w", err)
	}
	archiver, err := NewArchiver(ctx, cfg.Archive, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	if opts.Console != nil {
		schedOpts = append(schedOpts, scheduler.WithConsole(opts.Console))
	}
	if opts.History {
		if !dao.Ready() {
			if err := dao.InitDB(cfg.DB); err != nil {
				e.Close()
				return nil, err
			}
		}
		schedOpts = append(schedOpts, scheduler.WithStatusCallback(dao.NewRunRecorder()))
	}

	e.Scheduler = scheduler.NewPipelineScheduler(engine, pipeline, creds, archiver, scheduler.Config{
		Workspace: cfg.Workspace.Dir,
		Clean:     cfg.Workspace.Clean,
		LockFile:  cfg.Workspace.LockFile,
		TokenMode: cfg.Trigger.TokenMode,
	}, schedOpts...)
	logger.Info("executor ready",
		zap.String("pipeline", pipeline.Name),
		zap.String("engine", cfg.Engine.Kind),
		zap.String("credentials", creds.Name()),
		zap.String("workspace", cfg.Workspace.Dir),
	)
	return e, nil
}
