package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rtmpipe/internal/common"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "rtmpipe-executor",
		Short:         "Run the RTM report pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := common.InitConf(configPath); err != nil {
				return err
			}
			cfg := common.GetConfig()
			common.InitLog(cfg.LogPath, cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", common.DefaultConfigPath(), "config file")

	rootCmd.AddCommand(
		newRunCommand(),
		newWorkerCommand(),
		newProvisionCommand(),
		newUnlockCommand(),
		newCredentialCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// runFailedError marks a run that started and failed, as opposed to a
// usage or setup error.
type runFailedError struct {
	msg string
}

func (e *runFailedError) Error() string { return e.msg }

func exitCode(err error) int {
	if _, ok := err.(*runFailedError); ok {
		return 1
	}
	return 2
}
