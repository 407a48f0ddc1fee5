// Package logger provides the shared logging facade for the xformer
// application.
//
// All diagnostic output from CLI commands, the launcher, and the monitor
// server flows through this package. Human-facing command output (tables,
// generated files, prompts) is written to stdout directly by the commands
// themselves; this package is for operational messages only.
//
// The facade is printf-style and process-global:
//
//	logger.Info("starting server on %s", addr)
//	logger.SetDebug(true)
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.Mutex
	log = newLogger()

	// fileSink is non-nil after SetFile and closed on ResetOutput.
	fileSink *lumberjack.Logger
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// SetQuiet suppresses everything below the error level. Debug wins if both
// SetDebug(true) and SetQuiet(true) were called; the last call applies.
func SetQuiet(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		log.SetLevel(logrus.ErrorLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// SetFile mirrors all log output to the given file in addition to stderr.
// The file is size-rotated (10 MB, 5 backups, 28 days) so long-running
// daemons do not grow unbounded logs. Used by the serve command.
func SetFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	fileSink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileSink))
}

// ResetOutput restores stderr-only output and closes any file sink.
// Intended for tests.
func ResetOutput() {
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil {
		fileSink.Close()
		fileSink = nil
	}
	log.SetOutput(os.Stderr)
}

// Debug logs a debug-level message. No-op unless SetDebug(true) was called.
func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info logs an info-level message.
func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn logs a warning-level message.
func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error logs an error-level message.
func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
