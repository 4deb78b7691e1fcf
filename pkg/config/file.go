// Package config loads the optional YAML config file that sits at the
// bottom of the engine's and agent's configuration precedence, below CLI
// flags and environment variables.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path into dst. A path of "" or a file that
// does not exist is not an error: callers treat it as "no file-based
// overrides" and fall back entirely to environment variables and flag
// defaults, matching the container-agent deployments that never ship a
// config file at all.
func Load(path string, dst interface{}) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
