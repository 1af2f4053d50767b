package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/dao"
	"rtmpipe/internal/server/handler"
	"rtmpipe/internal/server/model"
	"rtmpipe/internal/server/scheduler"
	"rtmpipe/internal/task_executor/executor"
	executorsched "rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/internal/task_executor/worker"
	"rtmpipe/pkg/queue"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "rtmpipe-server",
		Short:         "HTTP front end of the RTM report pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := common.InitConf(configPath); err != nil {
				return err
			}
			cfg := common.GetConfig()
			common.InitLog(cfg.LogPath, cfg.LogLevel)
			return dao.InitDB(cfg.DB)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", common.DefaultConfigPath(), "config file")
	rootCmd.AddCommand(newUserCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfg := common.GetConfig()
	logger := common.GetLogger()
	defer logger.Sync()

	if cfg.Server.JWTKey == "" {
		return errors.New("server.jwt_key must be set")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		submitter handler.Submitter
		pipeline  *queue.PipelineConfig
	)
	switch cfg.Queue.Mode {
	case common.QueueModeAsynq:
		p, err := queue.LoadPipelineConfig(cfg.Pipeline)
		if err != nil {
			return err
		}
		client := worker.NewClient(cfg.Queue)
		defer client.Close()
		submitter, pipeline = client, p
	default:
		e, err := executor.New(ctx, cfg, logger, executor.Options{History: true})
		if err != nil {
			return err
		}
		defer e.Close()
		dispatcher := executorsched.NewDispatcher(e.Scheduler, cfg.Queue.Policy, cfg.Queue.Size, logger)
		go dispatcher.Run(ctx)
		submitter, pipeline = dispatcher, e.Pipeline
	}

	sched := scheduler.NewSchedulerService(submitter, logger)
	if err := sched.LoadSchedules(pipeline); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.NewRouter(handler.NewRunHandler(submitter, pipeline, cfg.Server.WebhookSecret)),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.String("queue", cfg.Queue.Mode))
		var err error
		if cfg.Server.CertPath != "" {
			err = srv.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage server users",
	}

	var username, password, role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != model.RoleViewer && role != model.RoleExecutor {
				return fmt.Errorf("role %q: want %s or %s", role, model.RoleViewer, model.RoleExecutor)
			}
			hash, err := handler.HashPassword(password)
			if err != nil {
				return err
			}
			if err := dao.NewUserDAO().Upsert(cmd.Context(), &model.User{Username: username, Password: hash, Role: role}); err != nil {
				return err
			}
			fmt.Printf("user %s saved as %s\n", username, role)
			return nil
		},
	}
	add.Flags().StringVarP(&username, "username", "u", "", "user name (required)")
	add.Flags().StringVarP(&password, "password", "p", "", "password (required)")
	add.Flags().StringVarP(&role, "role", "r", model.RoleViewer, "viewer or executor")
	add.MarkFlagRequired("username")
	add.MarkFlagRequired("password")
	cmd.AddCommand(add)
	return cmd
}
