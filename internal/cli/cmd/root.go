package cmd

import (
	"github.com/spf13/cobra"

	"rtmpipe/internal/cli/client"
)

// RegisterCommands adds all available commands to the root command
func RegisterCommands(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("server", "", "Server URL (default $RTMPIPE_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().String("ca-cert", "", "CA certificate for a TLS server (default $CA_CERT_PATH)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			client.SetServer(server)
		}
		if ca, _ := cmd.Flags().GetString("ca-cert"); ca != "" {
			client.SetCACert(ca)
		}
	}

	rootCmd.AddCommand(NewLoginCommand())
	rootCmd.AddCommand(NewTriggerCommand())
	rootCmd.AddCommand(NewHistoryCommand())
}
