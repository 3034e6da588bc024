package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DevicePolicySingle, cfg.Device.Policy)
	assert.Equal(t, 10*time.Minute, cfg.Device.Cooldown)
	assert.Equal(t, 60*time.Second, cfg.Feature.FreshnessWindow)
	assert.Equal(t, 20, cfg.Feature.AbuseLimit)
	assert.Equal(t, "dev-secret", cfg.Auth.JWTSecret)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEVICE_POLICY", "quota")
	t.Setenv("DEVICE_COOLDOWN", "5m")
	t.Setenv("FEATURE_ABUSE_LIMIT", "50")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DevicePolicyQuota, cfg.Device.Policy)
	assert.Equal(t, 5*time.Minute, cfg.Device.Cooldown)
	assert.Equal(t, 50, cfg.Feature.AbuseLimit)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
feature:
  permissions:
    optimizeTitle: basic
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "basic", cfg.Feature.Permissions["optimizetitle"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "unknown_policy", env: map[string]string{"DEVICE_POLICY": "many"}, wantErr: true},
		{name: "unknown_driver", env: map[string]string{"DATABASE_DRIVER": "mongo"}, wantErr: true},
		{name: "zero_abuse_limit", env: map[string]string{"FEATURE_ABUSE_LIMIT": "0"}, wantErr: true},
		{name: "production_without_secret", env: map[string]string{"ENV": "production"}, wantErr: true},
		{name: "production_with_secret", env: map[string]string{"ENV": "production", "AUTH_JWT_SECRET": "x"}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
