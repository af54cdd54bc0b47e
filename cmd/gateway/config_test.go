// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerDatabaseName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/gateway", "gateway_manager"},
		{"mongodb://localhost:27017/gateway?retryWrites=true", "gateway_manager"},
		{"mongodb://localhost:27017", "tenantgate_manager"},
		{"mongodb://localhost:27017/", "tenantgate_manager"},
		{"mongodb+srv://u:p@cluster.mongodb.net/prod", "prod_manager"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, managerDatabaseName(tt.uri), "uri %s", tt.uri)
	}
}

func TestLoadConfigRequiresManagerURI(t *testing.T) {
	t.Setenv("MANAGER_DB_URI", "")
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv("CONFIG_FILE", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("MANAGER_DB_URI", "mongodb://localhost:27017/gw")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("CONFIG_FILE", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"8080\"\nmodel: claude-3-5-haiku-20241022\nmaxSteps: 8\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MANAGER_DB_URI", "mongodb://localhost:27017/gw")
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv("PORT", "9090")
	t.Setenv("AI_MODEL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port, "PORT env wins over the file")
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Model)
	assert.Equal(t, 8, cfg.MaxSteps)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MANAGER_DB_URI", "mongodb://localhost:27017/gw")
	t.Setenv("ANTHROPIC_API_KEY", "key")
	t.Setenv("PORT", "")
	t.Setenv("AI_MODEL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Empty(t, cfg.Model)
	assert.Empty(t, cfg.JWTSecret)
}
