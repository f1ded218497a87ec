package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, filepath.Join(dir, "token"), cfg.TokenPath)
	assert.Equal(t, filepath.Join(dir, "fieldsync.db"), cfg.DataPath)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 8*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ResyncDelay)
	assert.Equal(t, LeaseSQLite, cfg.LeaseBackend)
	assert.True(t, cfg.IsLocal())
}

func TestLoad_Environment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("API_URL", "https://api.example.com/")
	t.Setenv("SYNC_MAX_RETRIES", "5")
	t.Setenv("SYNC_RETRY_DELAY", "250ms")
	t.Setenv("LEASE_BACKEND", "none")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.IsProd())
	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, LeaseNone, cfg.LeaseBackend)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)

	file := filepath.Join(dir, "fieldsync.yaml")
	require.NoError(t, os.WriteFile(file, []byte("api_url: http://field.local:9000\nfetch_timeout: 3s\n"), 0600))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "http://field.local:9000", cfg.APIURL)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis without url", env: map[string]string{"LEASE_BACKEND": "redis"}},
		{name: "unknown lease backend", env: map[string]string{"LEASE_BACKEND": "etcd"}},
		{name: "zero retries", env: map[string]string{"SYNC_MAX_RETRIES": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			assert.Error(t, err)
			assert.Panics(t, func() { MustLoad("") })
		})
	}
}
