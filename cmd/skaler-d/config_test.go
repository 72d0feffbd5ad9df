package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestLoadConfig(t *testing.T) {
	cwd, _ := os.Getwd()

	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
		check       func(t *testing.T, cfg Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg Config) {
				if cfg.ConfigPath != filepath.Join(cwd, "skaler.yaml") {
					t.Errorf("unexpected default config path %q", cfg.ConfigPath)
				}
				if cfg.LogLevel != log.InfoLevel {
					t.Errorf("expected info level, got %v", cfg.LogLevel)
				}
				if cfg.Addr != "" {
					t.Errorf("expected no addr override, got %q", cfg.Addr)
				}
			},
		},
		{
			name: "relative config path from flag",
			args: []string{"-config", "conf/skaler.yaml"},
			check: func(t *testing.T, cfg Config) {
				if cfg.ConfigPath != filepath.Join(cwd, "conf/skaler.yaml") {
					t.Errorf("path not resolved: %q", cfg.ConfigPath)
				}
			},
		},
		{
			name:    "config and level from env",
			envVars: map[string]string{"SKALER_CONFIG": "/etc/skaler.yaml", "SKALER_LOG_LEVEL": "debug"},
			check: func(t *testing.T, cfg Config) {
				if cfg.ConfigPath != "/etc/skaler.yaml" {
					t.Errorf("unexpected config path %q", cfg.ConfigPath)
				}
				if cfg.LogLevel != log.DebugLevel {
					t.Errorf("expected debug level, got %v", cfg.LogLevel)
				}
			},
		},
		{
			name:    "flag beats env",
			args:    []string{"-addr", "127.0.0.1:9999"},
			envVars: map[string]string{"SKALER_ADDR": "127.0.0.1:1111"},
			check: func(t *testing.T, cfg Config) {
				if cfg.Addr != "127.0.0.1:9999" {
					t.Errorf("unexpected addr %q", cfg.Addr)
				}
			},
		},
		{
			name:        "invalid log level",
			args:        []string{"-log-level", "loud"},
			expectError: true,
			errorSubstr: "invalid log level",
		},
		{
			name:        "tls cert without key",
			args:        []string{"-tls-cert", "cert.pem"},
			expectError: true,
			errorSubstr: "must be set together",
		},
		{
			name:        "unknown flag",
			args:        []string{"-policy", "x"},
			expectError: true,
			errorSubstr: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}
