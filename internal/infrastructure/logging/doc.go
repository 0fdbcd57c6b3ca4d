// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("pipeline ready", zap.Int("unit_size", 4096))
//	logger.Error("write failed", zap.Error(err))
package logging
