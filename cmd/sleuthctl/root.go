// Sleuthctl is the operator CLI for a running sleuth server. It talks
// to the management HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	apiURL string
	token  string
}

var rootCmd = &cobra.Command{
	Use:   "sleuthctl",
	Short: "Operator CLI for the sleuth error diagnosis service",
	Long:  "Sleuthctl inspects and manages error signatures tracked by a\nrunning sleuth server through its management API.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.apiURL, "api-url", envOr("SLEUTHCTL_API_URL", "http://localhost:8080"), "Base URL of the sleuth management API")
	pf.StringVar(&rootFlags.token, "token", os.Getenv("SLEUTHCTL_TOKEN"), "Bearer token for the management API")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(muteCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(retriageCmd)
	rootCmd.Version = version
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
