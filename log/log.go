// Package log holds the translator's process-wide structured logger: a
// *zap.Logger defaulting to a no-op sink so library code never forces
// logging configuration onto an embedding host, with SetLogger letting a
// CLI or host install a real one.
package log

import "go.uber.org/zap"

var logger = zap.NewNop()

// Logger returns the process-wide logger. Safe to call before SetLogger;
// returns a no-op logger until one is installed.
func Logger() *zap.Logger {
	return logger
}

// SetLogger installs l as the process-wide logger. Passing nil restores the
// no-op default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}
