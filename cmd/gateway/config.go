// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's startup configuration. Values come from an
// optional YAML file (CONFIG_FILE) with environment variables taking
// precedence.
type Config struct {
	Port     string `yaml:"port"`
	Model    string `yaml:"model"`
	MaxSteps int    `yaml:"maxSteps"`

	ManagerDBURI    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	JWTSecret       string `yaml:"-"`
}

// LoadConfig assembles the configuration. Missing manager database URI or
// model API key are startup-fatal; everything else has a default.
func LoadConfig() (*Config, error) {
	cfg := &Config{Port: "3000"}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		cfg.Model = model
	}

	cfg.ManagerDBURI = os.Getenv("MANAGER_DB_URI")
	if cfg.ManagerDBURI == "" {
		return nil, fmt.Errorf("MANAGER_DB_URI environment variable is not set")
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	return cfg, nil
}

// managerDatabaseName derives the gateway's own database from the manager
// URI's default database, suffixed so tenant data and gateway bookkeeping
// never share a database.
func managerDatabaseName(uri string) string {
	name := "tenantgate"

	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[i+1:]
		if j := strings.Index(rest, "?"); j >= 0 {
			rest = rest[:j]
		}
		if rest != "" {
			name = rest
		}
	}

	return name + "_manager"
}
