package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{level: "trace", want: logrus.TraceLevel},
		{level: "debug", want: logrus.DebugLevel},
		{level: "warn", want: logrus.WarnLevel},
		{level: "shouting", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()

			logger, closer, err := New(tt.level, "")
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() accepted an invalid level")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			defer closer.Close()

			if logger.Level != tt.want {
				t.Errorf("Level = %v, want %v", logger.Level, tt.want)
			}
			if logger.Out != os.Stdout {
				t.Error("blank file path should log to stdout")
			}
		})
	}
}

func TestNew_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "actornet.log")
	logger, closer, err := New("info", path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.WithField("scope", "test").Info("channel connected")
	logger.Debug("filtered out")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "channel connected") || !strings.Contains(out, "scope=test") {
		t.Errorf("log file missing entry: %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug entry written at info level: %q", out)
	}
}

func TestNew_UnwritablePath(t *testing.T) {
	t.Parallel()

	if _, _, err := New("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Fatal("New() with an unwritable path succeeded")
	}
}
