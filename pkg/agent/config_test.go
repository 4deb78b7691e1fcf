package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_MissingBucketIDFails(t *testing.T) {
	t.Setenv("S3_BUCKET_ID", "")
	t.Setenv("BACKEND_API_URL", "http://backend.local")
	t.Setenv("CONTAINER_SERVICE_TOKEN", "tok")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
}

func TestLoadConfigFromEnv_DefaultsApplied(t *testing.T) {
	t.Setenv("WORKSPACE_PATH", "")
	t.Setenv("S3_BUCKET_ID", "b1")
	t.Setenv("BACKEND_API_URL", "http://backend.local")
	t.Setenv("CONTAINER_SERVICE_TOKEN", "tok")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/workspace", cfg.WorkspacePath)
	assert.Equal(t, "b1", cfg.BucketID)
}

func newTestAgentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("workspace-path", "", "")
	cmd.Flags().String("backend-api-url", "", "")
	cmd.Flags().String("bucket-id", "", "")
	cmd.Flags().String("container-id", "", "")
	cmd.Flags().String("service-token", "", "")
	cmd.Flags().String("marker-path", "", "")
	cmd.Flags().String("health-addr", "", "")
	return cmd
}

func TestLoadConfig_FileValuesApplyBelowEnvAndFlags(t *testing.T) {
	t.Setenv("WORKSPACE_PATH", "")
	t.Setenv("S3_BUCKET_ID", "")
	t.Setenv("BACKEND_API_URL", "")
	t.Setenv("CONTAINER_SERVICE_TOKEN", "")
	t.Setenv("CONFIG_FILE", "")

	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""+
		"bucket_id: from-file\n"+
		"backend_api_url: http://file.local\n"+
		"service_token: file-tok\n"), 0o644))

	cmd := newTestAgentCmd()
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.BucketID)
	assert.Equal(t, "file-tok", cfg.ServiceToken)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bucket_id: from-file\n"), 0o644))

	t.Setenv("S3_BUCKET_ID", "from-env")
	t.Setenv("BACKEND_API_URL", "http://backend.local")
	t.Setenv("CONTAINER_SERVICE_TOKEN", "tok")

	cmd := newTestAgentCmd()
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.BucketID)
}

func TestLoadConfig_FlagOverridesEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bucket_id: from-file\n"), 0o644))

	t.Setenv("S3_BUCKET_ID", "from-env")
	t.Setenv("BACKEND_API_URL", "http://backend.local")
	t.Setenv("CONTAINER_SERVICE_TOKEN", "tok")

	cmd := newTestAgentCmd()
	require.NoError(t, cmd.Flags().Set("config", path))
	require.NoError(t, cmd.Flags().Set("bucket-id", "from-flag"))

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.BucketID)
}
