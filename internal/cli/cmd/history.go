package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"rtmpipe/internal/cli/client"
	"rtmpipe/pkg/api"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show run history",
		Run:   runHistory,
	}

	cmd.Flags().StringP("id", "i", "", "Run ID to show stage details for")
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to list")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) {
	runID, _ := cmd.Flags().GetString("id")
	if runID != "" {
		var detail api.RunDetail
		if err := client.Call(http.MethodGet, "/history/"+runID, nil, &detail); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println(RenderRunDetail(&detail))
		return
	}

	limit, _ := cmd.Flags().GetInt("limit")
	var runs []api.RunBrief
	if err := client.Call(http.MethodGet, fmt.Sprintf("/history?limit=%d", limit), nil, &runs); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(RenderRuns(runs))
}
