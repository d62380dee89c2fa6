package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/neofi/chronicle/pkg/api"
	"github.com/neofi/chronicle/pkg/config"
	"github.com/neofi/chronicle/pkg/observability"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(api.Version)
		return
	}

	// logrus covers the startup phase, before the structured request
	// logger is configured
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.WithError(err).Fatal("invalid configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	server, err := api.New(cfg, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to initialize server")
	}

	startupLog.WithFields(logrus.Fields{
		"version": api.Version,
		"driver":  cfg.Storage.Driver,
		"port":    cfg.Server.Port,
	}).Info("chronicle starting")

	if err := server.Start(); err != nil {
		startupLog.WithError(err).Fatal("server exited with error")
	}
}
