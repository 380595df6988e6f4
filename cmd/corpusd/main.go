package main

import (
	"fmt"
	"os"

	"github.com/corpora-labs/corpusd/internal/cli"
	"github.com/corpora-labs/corpusd/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corpusd",
		Short: "Corpus daemon and admin CLI",
		Long:  "Corpus daemon for running the document ingestion and retrieval API server and managing users and API keys",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.UserCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
