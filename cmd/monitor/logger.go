package main

import (
	"github.com/septivank/energy-bypass-monitor/internal/config"
	"github.com/septivank/energy-bypass-monitor/internal/logging"
	"go.uber.org/zap"
)

// newLogger builds the service logger tagged with the configured service name
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
