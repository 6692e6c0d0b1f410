// Package persist provides the small amount of on-disk state the installer
// core needs outside of the target files themselves: its log file. The
// version sidecar files are written by modules/patcher directly.
package persist

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Logger is a file-backed logger wrapping logrus: STARTUP and SHUTDOWN
// bookend lines, a Critical method that never panics in production builds.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// NewLogger creates a logger that writes to the given path, creating parent
// directories as needed, and also echoes to stderr.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetOutput(io.MultiWriter(f, os.Stderr))
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	l := &Logger{Logger: base, file: f}
	l.Println("STARTUP: logger initialized")
	return l, nil
}

// Critical logs a message indicating that a sanity check failed. Unlike
// build.Critical it never panics; the installer core uses it for conditions
// it can recover from but that indicate a broken caller or index.
func (l *Logger) Critical(v ...interface{}) {
	l.Logger.Error(v...)
}

// Close writes a shutdown line and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: logger closing")
	return l.file.Close()
}
