package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"benshigo/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Leveler
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"  WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.raw)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestFanoutWriterContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken stdout")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestManagerConfigureWritesToLogFile(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "app.log")
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("test").Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
	if !bytes.Contains(raw, []byte("component=test")) {
		t.Fatalf("log file does not carry component attribute, contents: %q", string(raw))
	}
}

func TestManagerConfigureRejectsBadLevel(t *testing.T) {
	m := NewManager()
	if err := m.Configure(config.LoggingConfig{Level: "verbose"}, ""); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
