// ABOUTME: Tests for configuration loading, env var expansion, and validation.
// ABOUTME: Covers duration parsing and the overflow policy enum.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50052"
  http_addr: "0.0.0.0:8089"
database:
  path: "/tmp/relay/state.db"
queues:
  size: 64
  overflow_policy: "drop_oldest"
requests:
  timeout: "30s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:50052", cfg.Server.GRPCAddr)
	assert.Equal(t, "0.0.0.0:8089", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/relay/state.db", cfg.Database.Path)
	assert.Equal(t, 64, cfg.Queues.Size)
	assert.Equal(t, "drop_oldest", cfg.Queues.OverflowPolicy)
	assert.Equal(t, 30*time.Second, cfg.Requests.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_GRPC_ADDR", "127.0.0.1:9999")
	t.Setenv("RELAY_DB_PATH", "/var/lib/relay/state.db")

	path := writeConfig(t, `
server:
  grpc_addr: "${RELAY_GRPC_ADDR}"
  http_addr: "localhost:8089"
database:
  path: "${RELAY_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.GRPCAddr)
	assert.Equal(t, "/var/lib/relay/state.db", cfg.Database.Path)
}

func TestLoadUnsetEnvVarExpandsToEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: "${DEFINITELY_NOT_SET_RELAY_VAR}"
  http_addr: "localhost:8089"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc_addr is required")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  grpc_addr: "localhost:50052"
  http_addr: "localhost:8089"
requests:
  timeout: "thirty seconds"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests.timeout")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing grpc addr",
			mutate:  func(c *Config) { c.Server.GRPCAddr = "" },
			wantErr: "grpc_addr",
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "http_addr",
		},
		{
			name:    "negative queue size",
			mutate:  func(c *Config) { c.Queues.Size = -1 },
			wantErr: "queues.size",
		},
		{
			name:    "bad overflow policy",
			mutate:  func(c *Config) { c.Queues.OverflowPolicy = "spill" },
			wantErr: "overflow_policy",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Requests.Timeout = -time.Second },
			wantErr: "requests.timeout",
		},
		{
			name:   "zero timeout disables the deadline",
			mutate: func(c *Config) { c.Requests.Timeout = 0 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "localhost:50052", cfg.Server.GRPCAddr)
	assert.Equal(t, "localhost:8089", cfg.Server.HTTPAddr)
	assert.Equal(t, 256, cfg.Queues.Size)
	assert.Equal(t, "block", cfg.Queues.OverflowPolicy)
	assert.Empty(t, cfg.Database.Path)
	assert.NoError(t, cfg.Validate())
}
