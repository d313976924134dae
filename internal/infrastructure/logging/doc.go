// Package logging provides structured logging for habridge.
//
// It wraps log/slog so every record carries the service and version fields,
// and components derive child loggers with Component:
//
//	logger := logging.New(cfg.Logging, version)
//	restLog := logger.Component("hass.rest")
//	restLog.Warn("request failed", "attempt", 2, "error", err)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Attributes whose key mentions a token, password, secret or authorization
// are written as [REDACTED].
package logging
