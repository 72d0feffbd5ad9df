package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	defaultConfigName = "skaler.yaml"
	defaultLogLevel   = "info"
)

// Config holds the command-line level settings. Everything else lives in
// the YAML file loaded by pkg/config.
type Config struct {
	ConfigPath string
	// Addr overrides the file's listen address when set.
	Addr     string
	LogLevel log.Level
	TLSCert  string
	TLSKey   string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	configPath := envOrDefault("SKALER_CONFIG", filepath.Join(cwd, defaultConfigName))
	logLevel := envOrDefault("SKALER_LOG_LEVEL", defaultLogLevel)

	flagSet := flag.NewFlagSet("skaler-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagConfig := flagSet.String("config", configPath, "path to YAML config")
	flagAddr := flagSet.String("addr", os.Getenv("SKALER_ADDR"), "HTTP listen address (overrides config)")
	flagLogLevel := flagSet.String("log-level", logLevel, "log level: debug|info|warn|error")
	flagTLSCert := flagSet.String("tls-cert", os.Getenv("SKALER_TLS_CERT"), "TLS certificate file")
	flagTLSKey := flagSet.String("tls-key", os.Getenv("SKALER_TLS_KEY"), "TLS key file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	level, err := log.ParseLevel(strings.TrimSpace(*flagLogLevel))
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	config := Config{
		ConfigPath: resolvePath(*flagConfig, cwd),
		Addr:       strings.TrimSpace(*flagAddr),
		LogLevel:   level,
		TLSCert:    resolvePath(*flagTLSCert, cwd),
		TLSKey:     resolvePath(*flagTLSKey, cwd),
	}

	if config.ConfigPath == "" {
		return Config{}, errors.New("config path cannot be empty")
	}
	if (config.TLSCert == "") != (config.TLSKey == "") {
		return Config{}, errors.New("tls-cert and tls-key must be set together")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
