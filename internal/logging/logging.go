// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies the configured log level to the global logger. Unknown levels
// fall back to info. verbose forces debug for the invocation.
func Setup(level string, verbose bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	if verbose {
		parsed = logrus.DebugLevel
	}
	logrus.SetLevel(parsed)
}

// EnableFileOutput tees the logger into a rotated file under dir. Used by the
// long-running capture server; one-shot commands log to stderr only.
func EnableFileOutput(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "better-webhook.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, rotated))
	return nil
}
