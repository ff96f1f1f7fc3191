// Command consolemuxd runs the console multiplexor daemon: a single
// process that fans serial, telnet and logfile objects out to any
// number of attached TCP clients.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "consolemuxd",
	Short:   "Console multiplexor daemon",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(configPath)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the configuration file without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("consolemuxd %s (%s)\n", version, commit)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "consolemuxd: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/consolemux/consolemux.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
