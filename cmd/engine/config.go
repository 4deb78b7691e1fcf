package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/ideengine/pkg/config"
)

// fileConfig is the shape of the optional YAML config file an `engine`
// deployment can check in alongside its container image — the bottom
// tier of the precedence chain behind CLI flags and environment
// variables. Every field is optional.
type fileConfig struct {
	LogLevel         string `yaml:"log_level"`
	LogJSON          *bool  `yaml:"log_json"`
	ListenAddr       string `yaml:"listen_addr"`
	SnapshotRoot     string `yaml:"snapshot_root"`
	CacheDir         string `yaml:"cache_dir"`
	DataDir          string `yaml:"data_dir"`
	NodeID           string `yaml:"node_id"`
	RaftBindAddr     string `yaml:"raft_bind_addr"`
	ClusterJoinAddr  string `yaml:"cluster_join_addr"`
	ClusterJoinToken string `yaml:"cluster_join_token"`
}

var loadedFileConfig fileConfig

// loadEngineFileConfig reads the YAML config file named by --config (or
// CONFIG_FILE) into the package-level loadedFileConfig, run once per
// process before any command's RunE.
func loadEngineFileConfig(cmd *cobra.Command) error {
	return config.Load(resolveConfigPath(cmd), &loadedFileConfig)
}

func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return os.Getenv("CONFIG_FILE")
}

// resolveString returns, in precedence order, the value of an explicitly
// set CLI flag, the named environment variable, the YAML file's value, or
// def.
func resolveString(cmd *cobra.Command, flag, env, fileVal, def string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	if fileVal != "" {
		return fileVal
	}
	return def
}

// resolveBool is resolveString's boolean counterpart.
func resolveBool(cmd *cobra.Command, flag, env string, fileVal *bool, def bool) bool {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		v, _ := cmd.Flags().GetBool(flag)
		return v
	}
	if v := os.Getenv(env); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	if fileVal != nil {
		return *fileVal
	}
	return def
}
