package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osmtile.log")

	l := build(Options{Verbose: true, File: path})
	l.Debug("debug line")
	l.Info("info line")
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"msg":"debug line"`, `"msg":"info line"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %s:\n%s", want, data)
		}
	}
}

func TestBuildLevel(t *testing.T) {
	if build(Options{}).Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug must be disabled without verbose")
	}
	if !build(Options{Verbose: true}).Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug must be enabled with verbose")
	}
}

func TestGetReturnsLogger(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get returned nil")
	}
}
