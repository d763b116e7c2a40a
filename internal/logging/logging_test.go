package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	Shutdown()

	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	logger := Init(Config{
		Format:    "json",
		Level:     "debug",
		Component: "woodenfish",
	})

	var buf bytes.Buffer
	out := logger.Output(&buf)
	out.Debug().Msg("hello")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry["component"] != "woodenfish" {
		t.Fatalf("expected component woodenfish, got %v", entry["component"])
	}

	mu.RLock()
	defer mu.RUnlock()

	if baseWriter != os.Stderr {
		t.Fatalf("expected base writer to be os.Stderr, got %#v", baseWriter)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "console"})

	mu.RLock()
	defer mu.RUnlock()

	if _, ok := baseWriter.(zerolog.ConsoleWriter); !ok {
		t.Fatalf("expected console writer, got %T", baseWriter)
	}
}

func TestInitAutoFormatHonoursTerminalDetection(t *testing.T) {
	t.Cleanup(resetLoggingState)
	original := isTerminalFn
	t.Cleanup(func() { isTerminalFn = original })

	isTerminalFn = func(int) bool { return true }
	Init(Config{Format: "auto"})
	mu.RLock()
	_, console := baseWriter.(zerolog.ConsoleWriter)
	mu.RUnlock()
	if !console {
		t.Fatal("expected console writer when stderr is a terminal")
	}

	isTerminalFn = func(int) bool { return false }
	Init(Config{Format: "auto"})
	mu.RLock()
	defer mu.RUnlock()
	if baseWriter != os.Stderr {
		t.Fatalf("expected raw stderr when not a terminal, got %T", baseWriter)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"info":     zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		" warn ":   zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"trace":    zerolog.TraceLevel,
		"disabled": zerolog.Disabled,
		"verbose":  zerolog.InfoLevel,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestInitWritesToLogFile(t *testing.T) {
	t.Cleanup(resetLoggingState)

	path := filepath.Join(t.TempDir(), "logs", "woodenfish.log")
	Init(Config{Format: "json", Level: "info", Component: "test", FilePath: path})

	log.Info().Str("product_id", "com.example.unlock").Msg("entitlement granted")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("unmarshal log line %q: %v", line, err)
	}
	if event["component"] != "test" || event["product_id"] != "com.example.unlock" {
		t.Fatalf("unexpected log event: %#v", event)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != logFilePerm {
		t.Fatalf("log file perm = %o, want %o", perm, logFilePerm)
	}
}

func TestOpenLogFileRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.log")
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(dir, "link.log")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := openLogFile(link); err == nil {
		t.Fatal("expected symlink log path to be rejected")
	}
}

func TestWithSessionIDGeneratesAndPropagates(t *testing.T) {
	t.Cleanup(resetLoggingState)

	ctx, id := WithSessionID(context.Background(), "  ")
	if id == "" {
		t.Fatal("expected generated session id")
	}
	if got := SessionID(ctx); got != id {
		t.Fatalf("SessionID = %q, want %q", got, id)
	}

	ctx, id = WithSessionID(nil, "fixed") //nolint:staticcheck // nil context is handled
	if id != "fixed" || SessionID(ctx) != "fixed" {
		t.Fatalf("expected fixed session id, got %q", id)
	}

	var buf bytes.Buffer
	mu.Lock()
	baseLogger = zerolog.New(&buf)
	mu.Unlock()

	logger := FromContext(ctx)
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"session_id":"fixed"`) {
		t.Fatalf("expected session id in output, got %s", buf.String())
	}
}
