package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldvisit/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldvisitctl",
		Short: "Operator tool for the fieldvisit service",
		Long: `fieldvisitctl applies database migrations, runs daily schedule
generation on demand and exports visit reports.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.GenerateDailyCmd())
	rootCmd.AddCommand(cli.ReportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
