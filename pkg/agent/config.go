package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/config"
)

// Config holds the Container Agent's startup configuration. Every field
// can be set by an environment variable alone, since the agent usually
// runs inside a container image the operator does not control the
// invocation of; `agent run` additionally layers CLI flags and an
// optional YAML config file underneath, see LoadConfig.
type Config struct {
	WorkspacePath   string // WORKSPACE_PATH, default /workspace
	BackendAPIURL   string // BACKEND_API_URL
	BucketID        string // S3_BUCKET_ID, required
	ContainerID     string // CONTAINER_ID, logged but not required
	ServiceToken    string // CONTAINER_SERVICE_TOKEN
	MarkerPath      string // where the initial-sync-complete marker file is written
	LocalHealthAddr string // address for the supplementary local /healthz
}

// FileConfig is the shape of the optional YAML config file the agent
// reads at the bottom of its precedence chain — below CLI flags and
// environment variables. It mirrors Config field-for-field; an empty
// string means "not set by the file".
type FileConfig struct {
	WorkspacePath   string `yaml:"workspace_path"`
	BackendAPIURL   string `yaml:"backend_api_url"`
	BucketID        string `yaml:"bucket_id"`
	ContainerID     string `yaml:"container_id"`
	ServiceToken    string `yaml:"service_token"`
	MarkerPath      string `yaml:"marker_path"`
	LocalHealthAddr string `yaml:"local_health_addr"`
}

// LoadConfigFromEnv builds a Config from the environment alone, matching
// spec.md §6's CLI surface exactly — the invocation a container image
// that does not pass flags or mount a config file relies on. Returns an
// error if a required variable is missing — the caller is expected to
// exit nonzero on error (exit code 1, "fatal startup failure").
func LoadConfigFromEnv() (Config, error) {
	return buildConfig(nil, FileConfig{})
}

// LoadConfig builds a Config from, in precedence order, cmd's explicitly
// set CLI flags, the environment, and the YAML file named by --config
// (or CONFIG_FILE) — the `agent run` entrypoint's full precedence chain.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	var file FileConfig
	if err := config.Load(resolveConfigPath(cmd), &file); err != nil {
		return Config{}, err
	}
	return buildConfig(cmd, file)
}

func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return os.Getenv("CONFIG_FILE")
}

func buildConfig(cmd *cobra.Command, file FileConfig) (Config, error) {
	cfg := Config{
		WorkspacePath:   resolveSetting(cmd, "workspace-path", "WORKSPACE_PATH", file.WorkspacePath, "/workspace"),
		BackendAPIURL:   resolveSetting(cmd, "backend-api-url", "BACKEND_API_URL", file.BackendAPIURL, ""),
		BucketID:        resolveSetting(cmd, "bucket-id", "S3_BUCKET_ID", file.BucketID, ""),
		ContainerID:     resolveSetting(cmd, "container-id", "CONTAINER_ID", file.ContainerID, ""),
		ServiceToken:    resolveSetting(cmd, "service-token", "CONTAINER_SERVICE_TOKEN", file.ServiceToken, ""),
		MarkerPath:      resolveSetting(cmd, "marker-path", "INITIAL_SYNC_MARKER_PATH", file.MarkerPath, "/tmp/initial-sync-complete"),
		LocalHealthAddr: resolveSetting(cmd, "health-addr", "AGENT_HEALTH_ADDR", file.LocalHealthAddr, ":7077"),
	}

	if cfg.BucketID == "" {
		return Config{}, fmt.Errorf("S3_BUCKET_ID is required")
	}
	if cfg.BackendAPIURL == "" {
		return Config{}, fmt.Errorf("BACKEND_API_URL is required")
	}
	if cfg.ServiceToken == "" {
		return Config{}, fmt.Errorf("CONTAINER_SERVICE_TOKEN is required")
	}

	cfg.BackendAPIURL = rewriteLoopbackForSandbox(cfg.BackendAPIURL)
	return cfg, nil
}

// resolveSetting returns, in precedence order, the value of an explicitly
// set CLI flag, the named environment variable, the YAML file's value, or
// def. cmd may be nil (LoadConfigFromEnv's pure-environment path), in
// which case the flag tier is skipped entirely.
func resolveSetting(cmd *cobra.Command, flag, env, fileVal, def string) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			return f.Value.String()
		}
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return def
}

// rewriteLoopbackForSandbox replaces a loopback host in the backend URL
// with the in-container host alias used by the common containerized sandbox
// runtimes (Docker Desktop, most rootless container runtimes), matching
// spec.md's note that a loopback-targeted BACKEND_API_URL must be rewritten
// when the agent itself runs inside one of those sandboxes.
func rewriteLoopbackForSandbox(url string) string {
	if !insideContainerSandbox() {
		return url
	}
	for _, loopback := range []string{"localhost", "127.0.0.1"} {
		if strings.Contains(url, loopback) {
			return strings.Replace(url, loopback, "host.docker.internal", 1)
		}
	}
	return url
}

// insideContainerSandbox reports whether the process appears to run inside
// a container, via the presence of /.dockerenv — the same heuristic common
// container runtimes rely on.
func insideContainerSandbox() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

const (
	// significantChangeAge is the "time since last update for this path"
	// threshold spec.md §4.5 uses to decide whether a remote update is a
	// "significant change" warranting the short debounce.
	significantChangeAge = 3 * time.Second
	// significantChangeBytes is the content-length threshold for the same
	// decision.
	significantChangeBytes = 512

	shortDebounce = 150 * time.Millisecond
	longDebounce  = 800 * time.Millisecond

	// quietWindow suppresses the filesystem event the agent's own disk
	// write produces, so it is never turned back into a CRDT update.
	quietWindow = 250 * time.Millisecond

	// resubscribeSweepInterval is the fixed interval at which the agent
	// re-subscribes to every known path, guarding against rooms silently
	// losing it.
	resubscribeSweepInterval = 30 * time.Second

	// initialSyncHardTimeout bounds how long the agent waits for every
	// startup-list path's document-state before declaring sync complete
	// anyway.
	initialSyncHardTimeout = 20 * time.Second
)
