package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/minicd/minicd/logger"
)

func TestConsoleLogger(t *testing.T) {
	b := &bytes.Buffer{}
	exitCode := 0

	printer := logger.NewTextPrinter(b)
	printer.Colors = false

	l := logger.NewConsoleLogger(printer, func(c int) {
		exitCode = c
	})
	l.SetLevel(logger.INFO)

	l.Debug("Debug %q", "deploy")
	l.Info("Info %q", "deploy")
	l.Notice("Notice %q", "deploy")
	l.Warn("Warn %q", "deploy")
	l.Error("Error %q", "deploy")
	l.Fatal("Fatal %q", "deploy")

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")

	if len(lines) != 5 {
		t.Fatalf("bad number of lines, got %d", len(lines))
	}

	want := []string{
		`Info "deploy"`,
		`Notice "deploy"`,
		`Warn "deploy"`,
		`Error "deploy"`,
		`Fatal "deploy"`,
	}
	for i, suffix := range want {
		if !strings.HasSuffix(lines[i], suffix) {
			t.Errorf("line %d bad, got %q", i, lines[i])
		}
	}

	if exitCode != 1 {
		t.Fatalf("exit code bad, got %d", exitCode)
	}
}

func TestConsoleLoggerWithFields(t *testing.T) {
	b := &bytes.Buffer{}

	printer := logger.NewTextPrinter(b)
	printer.Colors = false

	l := logger.NewConsoleLogger(printer, func(int) {})
	fl := l.WithFields(logger.StringField("repo", "myrepo"))

	fl.Info("cloned")
	fl.WithFields(
		logger.IntField("status", 200),
		logger.DurationField("duration", 1500*time.Millisecond),
	).Info("ran")
	l.Info("plain")

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("bad number of lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "cloned repo=myrepo") {
		t.Errorf("line 0 bad, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "ran repo=myrepo status=200 duration=1.5s") {
		t.Errorf("line 1 bad, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "plain") {
		t.Errorf("line 2 bad, got %q", lines[2])
	}
}

func TestTextPrinter(t *testing.T) {
	b := &bytes.Buffer{}

	printer := logger.NewTextPrinter(b)
	printer.Colors = false

	printer.Print(logger.INFO, "run finished", logger.Fields{logger.StringField("job", "build")})

	if msg := b.String(); !strings.HasSuffix(msg, "run finished job=build\n") {
		t.Fatalf("bad message, got %q", msg)
	}
}

func TestJSONPrinter(t *testing.T) {
	b := &bytes.Buffer{}

	printer := logger.NewJSONPrinter(b)
	printer.Print(logger.INFO, "run finished", logger.Fields{logger.StringField("job", "build")})

	var results map[string]any
	err := json.Unmarshal(b.Bytes(), &results)
	if err != nil {
		t.Fatalf("bad json: %v", err)
	}

	if val, ok := results["job"]; !ok || val != "build" {
		t.Fatalf("bad job, got %v", val)
	}

	if val, ok := results["msg"]; !ok || val != "run finished" {
		t.Fatalf("bad msg, got %v", val)
	}

	if val, ok := results["ts"]; !ok || val == "" {
		t.Fatalf("bad ts, got %v", val)
	}

	if val, ok := results["level"]; !ok || val != "INFO" {
		t.Fatalf("bad level, got %v", val)
	}
}

func TestJSONPrinterSpecialCharacters(t *testing.T) {
	b := &bytes.Buffer{}

	printer := logger.NewJSONPrinter(b)
	printer.Print(logger.INFO, "\x1b", logger.Fields{logger.StringField("job", "build")})

	var results map[string]any
	err := json.Unmarshal(b.Bytes(), &results)
	if err != nil {
		t.Fatalf("bad json: %v", err)
	}
}
