package main

import (
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/client"
	"github.com/rmax-ai/skaler/pkg/mcp"
)

func main() {
	// stdout carries the protocol.
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.JSONFormatter{})

	endpoint := flag.String("endpoint", envOr("SKALER_ENDPOINT", client.DefaultEndpoint), "skaler-d endpoint")
	flag.Parse()

	s := mcp.NewServer(*endpoint, client.WithToken(os.Getenv("SKALER_API_TOKEN")))
	log.WithField("endpoint", *endpoint).Info("mcp_server_starting")
	if err := s.Serve(); err != nil {
		log.WithError(err).Fatal("mcp_server_failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
