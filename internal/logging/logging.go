// Package logging builds the logrus logger shared by every server component.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to filePath, or stdout when filePath is blank.
// The returned closer releases the log file and is a no-op for stdout.
func New(level, filePath string) (*logrus.Logger, io.Closer, error) {
	logLvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", filePath, err)
		}
		w, closer = f, f
	}

	return &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLvl,
	}, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
