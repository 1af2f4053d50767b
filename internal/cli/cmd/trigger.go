package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"rtmpipe/internal/cli/client"
	"rtmpipe/pkg/api"
)

// NewTriggerCommand creates the trigger command
func NewTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a report run",
		Run:   runTrigger,
	}

	cmd.Flags().StringP("project", "p", "", "RTM project key (default from the pipeline definition)")
	cmd.Flags().StringP("execution", "e", "", "Test execution key (required)")
	cmd.Flags().StringP("recipients", "r", "", "Comma separated mail recipients")
	cmd.Flags().StringP("format", "f", "", "Report format: html or pdf")
	cmd.Flags().StringP("token", "t", "", "Trigger token")
	cmd.MarkFlagRequired("execution")

	return cmd
}

func runTrigger(cmd *cobra.Command, args []string) {
	req := api.TriggerRequest{}
	req.ProjectKey, _ = cmd.Flags().GetString("project")
	req.ExecutionKey, _ = cmd.Flags().GetString("execution")
	req.Recipients, _ = cmd.Flags().GetString("recipients")
	req.ReportFormat, _ = cmd.Flags().GetString("format")
	req.Token, _ = cmd.Flags().GetString("token")

	var resp api.TriggerResponse
	if err := client.Call(http.MethodPost, "/trigger", req, &resp); err != nil {
		fmt.Printf("Trigger failed: %v\n", err)
		return
	}
	if resp.Queued {
		fmt.Printf("Run %s queued behind the active run\n", resp.RunID)
		return
	}
	fmt.Printf("Run %s started\n", resp.RunID)
}
