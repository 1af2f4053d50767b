package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/credential"
	"rtmpipe/internal/task_executor/executor"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/internal/task_executor/stage"
	"rtmpipe/internal/task_executor/worker"
	"rtmpipe/pkg/queue"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCommand() *cobra.Command {
	var (
		params  queue.Params
		history bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			logger := common.GetLogger()

			e, err := executor.New(ctx, common.GetConfig(), logger, executor.Options{Console: os.Stdout, History: history})
			if err != nil {
				return err
			}
			defer e.Close()

			outcome, err := e.Scheduler.SchedulePipeline(ctx, &queue.RunRequest{
				RunID:       uuid.NewString(),
				TriggerType: queue.TriggerManual,
				Params:      params,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s (archive %s)\n", outcome.RunID, outcome.State, outcome.ArchiveDir)
			if outcome.ArchiveError != "" {
				logger.Warn("archive incomplete", zap.String("error", outcome.ArchiveError))
			}
			if outcome.State != scheduler.StateSucceeded {
				return &runFailedError{msg: fmt.Sprintf("%s failed: %s: %s", outcome.FailedStage, outcome.Kind, outcome.Error)}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&params.ProjectKey, "project", "p", "", "RTM project key")
	cmd.Flags().StringVarP(&params.ExecutionKey, "execution", "e", "", "test execution key")
	cmd.Flags().StringVarP(&params.Recipients, "recipients", "r", "", "comma separated mail recipients")
	cmd.Flags().StringVarP(&params.ReportFormat, "format", "f", "", "report format: html, pdf or both")
	cmd.Flags().StringVarP(&params.TriggerToken, "token", "t", "", "trigger token")
	cmd.Flags().BoolVar(&history, "history", false, "record the run in the history database")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Execute runs queued in Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg := common.GetConfig()
			logger := common.GetLogger()

			e, err := executor.New(ctx, cfg, logger, executor.Options{History: true})
			if err != nil {
				return err
			}
			defer e.Close()

			w := worker.NewWorker(cfg.Queue, e.Scheduler, logger)
			logger.Info("worker started", zap.String("redis", cfg.Queue.RedisAddr))
			return w.Run()
		},
	}
}

func newProvisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create or update the Python runtime in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cfg := common.GetConfig()
			logger := common.GetLogger()

			pipeline, err := queue.LoadPipelineConfig(cfg.Pipeline)
			if err != nil {
				return err
			}
			engine, closer, err := executor.NewEngine(cfg.Engine, logger)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			run := &stage.Run{
				ID:        "provision",
				Workspace: cfg.Workspace.Dir,
				Pipeline:  pipeline,
				Engine:    engine,
				Console:   os.Stdout,
				Logger:    logger,
			}
			if _, err := (&stage.Provisioner{}).Run(ctx, run); err != nil {
				return &runFailedError{msg: err.Error()}
			}
			fmt.Printf("runtime ready: %s\n", run.Python)
			return nil
		},
	}
}

func newUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale workspace lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := common.GetConfig().Workspace
			if ws.LockFile == "" {
				return fmt.Errorf("workspace.lock_file is not set")
			}
			path := filepath.Join(ws.Dir, ws.LockFile)
			if err := scheduler.ForceUnlock(path); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", path)
			return nil
		},
	}
}

func newCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage credentials in the OS keyring",
	}
	set := &cobra.Command{
		Use:   "set KEY",
		Short: "Store a credential, the value is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := common.GetConfig().Credentials
			ring, err := credential.OpenKeyring(cfg.KeyringService, cfg.KeyringDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "value for %s: ", args[0])
			value, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("reading value: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return fmt.Errorf("empty value for %s", args[0])
			}
			return ring.Store(args[0], value)
		},
	}
	cmd.AddCommand(set)
	return cmd
}
