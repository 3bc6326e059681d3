// Package logging provides structured logging using uber/zap.
//
// This package offers two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Worker processes write every log line to stderr so the parent can collect
// diagnostics without interleaving them with anything else.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger = logger.ForWorker(id.String())
//	logger.Info("Worker connected", zap.String("address", addr))
//	logger.Debug("Dropped invalid message", zap.Error(err))
package logging
