package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/agent"
	"github.com/cuemby/ideengine/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ideengine-agent: %v\n", err)
		os.Exit(1)
	}
}

// rootCmd runs the Container Agent directly when invoked with no
// subcommand, matching container images that exec `ideengine-agent` with
// no arguments and configure everything through the environment. `run`
// is the same entrypoint spelled out, for images that prefer an explicit
// verb and operators driving it from flags or a config file.
var rootCmd = &cobra.Command{
	Use:   "ideengine-agent",
	Short: "Container Agent: syncs a workspace filesystem with the Document Store",
	RunE:  runAgent,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Container Agent (same as invoking with no subcommand)",
	RunE:  runAgent,
}

func init() {
	bindAgentFlags(rootCmd)
	bindAgentFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func bindAgentFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to an optional YAML config file (or set CONFIG_FILE)")
	cmd.Flags().String("workspace-path", "", "Workspace directory to watch (or set WORKSPACE_PATH, default /workspace)")
	cmd.Flags().String("backend-api-url", "", "Session Endpoint base URL (or set BACKEND_API_URL)")
	cmd.Flags().String("bucket-id", "", "Bucket this agent syncs (or set S3_BUCKET_ID)")
	cmd.Flags().String("container-id", "", "This container's id, logged only (or set CONTAINER_ID)")
	cmd.Flags().String("service-token", "", "Bearer token for the Session Endpoint (or set CONTAINER_SERVICE_TOKEN)")
	cmd.Flags().String("marker-path", "", "Path of the initial-sync-complete marker file (or set INITIAL_SYNC_MARKER_PATH)")
	cmd.Flags().String("health-addr", "", "Address for the local /healthz (or set AGENT_HEALTH_ADDR)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	cfg, err := agent.LoadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
