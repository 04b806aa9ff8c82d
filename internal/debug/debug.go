// Package debug provides component-tagged logging for perfdash.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logFile     *os.File
	logFileMu   sync.Mutex
	logFilePath string

	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	if os.Getenv("PERFDASH_DEBUG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Logger returns the shared logrus logger.
func Logger() *logrus.Logger {
	return logger
}

// Enable turns on debug logging.
func Enable() {
	logger.SetLevel(logrus.DebugLevel)
}

// Disable turns off debug logging.
func Disable() {
	logger.SetLevel(logrus.InfoLevel)
}

// IsEnabled returns whether debug logging is enabled.
func IsEnabled() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// SetLevel sets the level from a string such as "debug" or "warn".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output. Used by the MCP server, which owns stdout.
func SetOutput(w io.Writer) {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logger.SetOutput(io.MultiWriter(w, logFile))
		return
	}
	logger.SetOutput(w)
}

// SetLogFile mirrors logs into a file under the user cache directory.
// An empty name restores stderr-only output.
func SetLogFile(name string) error {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	if name == "" {
		logger.SetOutput(os.Stderr)
		logFilePath = ""
		return nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}

	logDir := filepath.Join(cacheDir, "perfdash", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath = filepath.Join(logDir, name)
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// GetLogFilePath returns the current log file path, or empty if not set.
func GetLogFilePath() string {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	return logFilePath
}

// Close closes the log file if open.
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func entry(component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// Log logs a debug message if debug mode is enabled.
func Log(component, format string, args ...interface{}) {
	entry(component).Debugf(format, args...)
}

// Trace logs very verbose messages such as per-message relay traces.
func Trace(component, format string, args ...interface{}) {
	entry(component).Tracef(format, args...)
}

// Info logs an info message.
func Info(component, format string, args ...interface{}) {
	entry(component).Infof(format, args...)
}

// Warn logs a warning message.
func Warn(component, format string, args ...interface{}) {
	entry(component).Warnf(format, args...)
}

// Error logs an error message.
func Error(component, format string, args ...interface{}) {
	entry(component).Errorf(format, args...)
}

// WithFields returns an entry carrying the component plus extra fields.
func WithFields(component string, fields logrus.Fields) *logrus.Entry {
	return entry(component).WithFields(fields)
}
