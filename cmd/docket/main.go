package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docket",
	Short: "Docket — case and organisation membership service",
	Long:  "Docket manages organisations, teams, and cases with role-scoped memberships, an email invite lifecycle, and a lifecycle event ledger for activity statistics.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file (built-in defaults apply when unset)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
