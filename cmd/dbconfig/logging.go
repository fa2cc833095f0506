package main

import (
	"fmt"

	"github.com/sardine-ai/go-db-config/internal/config"
	"github.com/sirupsen/logrus"
)

func setupLogging(logger *logrus.Logger, cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	switch cfg.LogFormat {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return nil
}
