package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger   = newDefaultLogger()
	logFile  *os.File
	configMu sync.Mutex
)

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// Logger returns the shared structured logger.
func Logger() *logrus.Logger {
	return logger
}

// ConfigureDebug directs debug output to <dir>/debug.log, or to stderr when
// verbose is set. The returned func closes the log file.
func ConfigureDebug(dir string, verbose bool) (func(), error) {
	configMu.Lock()
	defer configMu.Unlock()

	if verbose {
		logger.SetOutput(os.Stderr)
		return func() {}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	logFile = f
	logger.SetOutput(f)

	return func() {
		configMu.Lock()
		defer configMu.Unlock()
		logger.SetOutput(io.Discard)
		if logFile != nil {
			_ = logFile.Close()
			logFile = nil
		}
	}, nil
}

// Debug writes a formatted message to the debug log
func Debug(format string, args ...any) {
	logger.Debugf(format, args...)
}
