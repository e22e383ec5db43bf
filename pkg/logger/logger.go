// Package logger provides the process-wide file logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base    = newBase()
	logFile *os.File
	mu      sync.Mutex
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	base.SetOutput(f)

	return nil
}

// SetOutput redirects log output without opening a file (stderr for --verbose).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// SetLevel sets the minimum level: debug, info, warn or error.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	base.SetOutput(io.Discard)
}

// WithFields returns an entry that always writes the supplied fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return base.WithFields(logrus.Fields(fields))
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	base.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	base.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	base.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	base.Warnf(format, v...)
}

// GetWriter returns the underlying writer for use by collaborators.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
