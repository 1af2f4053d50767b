package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"rtmpipe/internal/cli/client"
	"rtmpipe/pkg/api"
)

func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to the pipeline server",
		Run:   runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "Username for login (required)")
	cmd.Flags().StringP("password", "p", "", "Password for login (required)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func runLogin(cmd *cobra.Command, args []string) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	req := api.LoginRequest{
		Username: username,
		Password: password,
	}
	if err := client.Call(http.MethodPost, "/login", req, nil); err != nil {
		fmt.Printf("Login failed: %v\n", err)
		return
	}
	if client.Token() == "" {
		fmt.Println("Login failed: no token in response")
		return
	}
	fmt.Printf("Login successful as %s\n", username)
}
