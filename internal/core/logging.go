package core

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets the global logrus level and output. Logs go to
// stderr; when logFile is set they are also appended to that file.
func ConfigureLogging(verbose, quiet bool, logFile string) (io.Closer, error) {
	switch {
	case verbose:
		logrus.SetLevel(logrus.DebugLevel)
	case quiet:
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: APIDatetimeFmt,
	})

	if logFile == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}
