package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 19001, cfg.PortRangeStart)
	assert.Equal(t, 19999, cfg.PortRangeEnd)
	assert.Equal(t, "clawbowl-openclaw:latest", cfg.Image)
	assert.Equal(t, "/var/lib/clawbowl", cfg.DataDir)
	assert.Equal(t, "1536m", cfg.ContainerMemory)
	assert.Equal(t, 0.5, cfg.ContainerCPUs)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.True(t, cfg.APNsUseSandbox)
}

func TestMemoryBytes(t *testing.T) {
	tests := []struct {
		name    string
		memory  string
		want    int64
		wantErr bool
	}{
		{name: "megabytes", memory: "1536m", want: 1536 << 20},
		{name: "gigabytes", memory: "2g", want: 2 << 30},
		{name: "kilobytes", memory: "512k", want: 512 << 10},
		{name: "raw bytes", memory: "1048576", want: 1048576},
		{name: "uppercase suffix", memory: "1G", want: 1 << 30},
		{name: "empty", memory: "", wantErr: true},
		{name: "garbage", memory: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ContainerMemory = tt.memory
			got, err := cfg.MemoryBytes()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults valid", mutate: func(c *Config) {}, ok: true},
		{name: "inverted port range", mutate: func(c *Config) { c.PortRangeStart = 20000; c.PortRangeEnd = 19001 }},
		{name: "zero port", mutate: func(c *Config) { c.PortRangeStart = 0 }},
		{name: "empty image", mutate: func(c *Config) { c.Image = "" }},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "negative idle timeout", mutate: func(c *Config) { c.IdleTimeout = -time.Minute }},
		{name: "bad memory", mutate: func(c *Config) { c.ContainerMemory = "???" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLAWBOWL_PORT_RANGE_START", "20001")
	t.Setenv("CLAWBOWL_PORT_RANGE_END", "20050")
	t.Setenv("CLAWBOWL_IDLE_TIMEOUT", "10m")
	t.Setenv("ZENMUX_API_KEY", "zk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20001, cfg.PortRangeStart)
	assert.Equal(t, 20050, cfg.PortRangeEnd)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, "zk-test", cfg.ZenmuxAPIKey)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("CLAWBOWL_IMAGE", "from-env:latest")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image: from-file:latest\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file:latest", cfg.Image)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
