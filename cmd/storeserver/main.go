package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cachemir/asyncproxy/internal/logging"
	"github.com/cachemir/asyncproxy/internal/server"
	"github.com/cachemir/asyncproxy/pkg/config"
)

func main() {
	cfg, err := config.LoadServerConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logging.Fatal(err, "Failed to parse flags")
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal(err, "Invalid configuration")
	}

	logging.Configure(&logging.LogOptions{Level: cfg.LogLevel, Format: "text"})
	logging.Info("Starting store server",
		"addr", cfg.Address(),
		"max_conns", cfg.MaxConns,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout)

	srv, err := server.New(cfg)
	if err != nil {
		logging.Fatal(err, "Failed to create server")
	}
	if err := srv.Listen(); err != nil {
		logging.Fatal(err, "Server failed to start")
	}

	go func() {
		if err := srv.Serve(); err != nil {
			logging.Fatal(err, "Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logging.Info("Shutting down server...")

	if err := srv.Stop(); err != nil {
		logging.Error(err, "Error stopping server")
	}

	logging.Info("Server stopped")
}
