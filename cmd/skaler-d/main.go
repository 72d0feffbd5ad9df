package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/config"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)

	flags, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.WithError(err).Fatal("invalid_flags")
	}
	log.SetLevel(flags.LogLevel)
	log.WithField("component", "skaler-d").Info("system_started")

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.WithError(err).WithField("path", flags.ConfigPath).Fatal("failed_to_load_config")
	}
	if flags.Addr != "" {
		cfg.Listen = flags.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed_to_init")
	}
	if flags.TLSCert != "" {
		a.server.SetTLS(flags.TLSCert, flags.TLSKey)
	}

	runErr := a.run(ctx)
	if err := a.close(); err != nil {
		log.WithError(err).Error("failed_to_close_store")
	}
	if runErr != nil {
		log.WithError(runErr).Fatal("server_failed")
	}
	log.Info("shutdown_complete")
}
