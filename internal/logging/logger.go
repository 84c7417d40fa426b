// Package logging builds the zap logger shared by the server, worker, and tools.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a development logger for non-production environments and a JSON production logger otherwise.
func New(env string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "staging":
		logger, err = zap.NewProduction()
	default:
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil. Components accept a nil logger in tests.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
