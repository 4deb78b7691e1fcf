package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/log"
)

// Version information (set via ldflags during build)
var (
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
	Use:   "engine",
	Short: "ideengine - collaborative IDE synchronization engine",
	Long: `ideengine keeps a browser code editor, a remote execution
container's filesystem, and an object-store snapshot of a student
workspace converged, using a CRDT-based Session Endpoint, Document
Store, and Room Router, optionally replicated across processes by a
Raft-backed Cluster Coordinator.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ideengine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to an optional YAML config file (or set CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error, or set IDEENGINE_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format (or set IDEENGINE_LOG_JSON)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bucketCmd)
}

func initLogging() {
	if err := loadEngineFileConfig(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "ideengine: %v\n", err)
		os.Exit(1)
	}

	logLevel := resolveString(rootCmd, "log-level", "IDEENGINE_LOG_LEVEL", loadedFileConfig.LogLevel, "info")
	logJSON := resolveBool(rootCmd, "log-json", "IDEENGINE_LOG_JSON", loadedFileConfig.LogJSON, false)

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
