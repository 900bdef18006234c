package main

import (
	"fmt"
	"os"

	"github.com/cuemby/raftcore/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftd",
	Short: "raftd - a standalone Raft consensus node and cluster client",
	Long: `raftd runs a Raft consensus node replicating a simple key/value
state machine across a cluster, or acts as a client against an already
running cluster.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"raftd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(barrierCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addVoterCmd)
	rootCmd.AddCommand(addStandbyCmd)
	rootCmd.AddCommand(removeServerCmd)
	rootCmd.AddCommand(transferLeadershipCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
