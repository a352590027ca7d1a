package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const DateFormat = "2006-01-02 15:04:05"

const (
	nocolor   = "0"
	red       = "31"
	green     = "38;5;48"
	yellow    = "33"
	gray      = "38;5;251"
	lightgray = "38;5;243"
	cyan      = "1;36"
)

// Logger is the logging interface handed to every component. Implementations
// must be safe for concurrent use by multiple goroutines.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Notice(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	Fatal(format string, v ...any)

	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	Level() Level
}

// Printer renders a single formatted message somewhere.
type Printer interface {
	Print(level Level, msg string, fields Fields)
}

// ConsoleLogger writes messages through a Printer, and calls exitFn with a
// non-zero code after a Fatal message.
type ConsoleLogger struct {
	level   Level
	printer Printer
	exitFn  func(int)
	fields  Fields
}

func NewConsoleLogger(printer Printer, exitFn func(int)) Logger {
	return &ConsoleLogger{
		level:   INFO,
		printer: printer,
		exitFn:  exitFn,
	}
}

// WithFields returns a copy of the logger that appends the given fields to
// every message.
func (l *ConsoleLogger) WithFields(fields ...Field) Logger {
	clone := *l
	clone.fields = make(Fields, 0, len(l.fields)+len(fields))
	clone.fields.Add(l.fields...)
	clone.fields.Add(fields...)
	return &clone
}

// SetLevel sets the minimum level a message must have to be printed.
// Call it during setup, before the logger is shared between goroutines.
func (l *ConsoleLogger) SetLevel(level Level) {
	l.level = level
}

func (l *ConsoleLogger) Level() Level {
	return l.level
}

func (l *ConsoleLogger) Debug(format string, v ...any)  { l.log(DEBUG, format, v...) }
func (l *ConsoleLogger) Info(format string, v ...any)   { l.log(INFO, format, v...) }
func (l *ConsoleLogger) Notice(format string, v ...any) { l.log(NOTICE, format, v...) }
func (l *ConsoleLogger) Warn(format string, v ...any)   { l.log(WARN, format, v...) }
func (l *ConsoleLogger) Error(format string, v ...any)  { l.log(ERROR, format, v...) }

func (l *ConsoleLogger) Fatal(format string, v ...any) {
	l.log(FATAL, format, v...)
	l.exitFn(1)
}

func (l *ConsoleLogger) log(level Level, format string, v ...any) {
	if level < l.level {
		return
	}
	l.printer.Print(level, fmt.Sprintf(format, v...), l.fields)
}

// TextPrinter renders messages as human-readable lines, with ANSI colors
// when the writer is a terminal.
type TextPrinter struct {
	Colors bool
	Writer io.Writer

	mu sync.Mutex
}

func NewTextPrinter(w io.Writer) *TextPrinter {
	return &TextPrinter{
		Colors: ColorsSupported(w),
		Writer: w,
	}
}

// ColorsSupported reports whether w is a terminal capable of rendering
// ANSI colors.
func ColorsSupported(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *TextPrinter) Print(level Level, msg string, fields Fields) {
	now := time.Now().Format(DateFormat)

	fieldStr := ""
	for _, f := range fields {
		fieldStr += fmt.Sprintf(" %s=%s", f.Key(), f.String())
	}

	line := ""
	if p.Colors {
		levelColor := green
		messageColor := nocolor

		switch level {
		case DEBUG:
			levelColor = gray
			messageColor = gray
		case NOTICE:
			levelColor = cyan
		case WARN:
			levelColor = yellow
		case ERROR:
			levelColor = red
		case FATAL:
			levelColor = red
			messageColor = red
		}

		line = fmt.Sprintf("\x1b[%sm%s %-6s\x1b[0m \x1b[%sm%s\x1b[0m\x1b[%sm%s\x1b[0m\n",
			levelColor, now, level, messageColor, msg, lightgray, fieldStr)
	} else {
		line = fmt.Sprintf("%s %-6s %s%s\n", now, level, msg, fieldStr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.Writer, line)
}

// JSONPrinter renders messages as single-line JSON objects with ts, level
// and msg keys, plus one key per field.
type JSONPrinter struct {
	Writer io.Writer

	mu sync.Mutex
}

func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{Writer: w}
}

func (p *JSONPrinter) Print(level Level, msg string, fields Fields) {
	record := map[string]string{
		"ts":    time.Now().Format(DateFormat),
		"level": level.String(),
		"msg":   msg,
	}
	for _, f := range fields {
		record[f.Key()] = f.String()
	}

	// A map[string]string always marshals cleanly.
	b, _ := json.Marshal(record)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Writer, "%s\n", b)
}

// Discard drops every message.
var Discard Logger = discard{}

type discard struct{}

func (discard) Debug(string, ...any)       {}
func (discard) Info(string, ...any)        {}
func (discard) Notice(string, ...any)      {}
func (discard) Warn(string, ...any)        {}
func (discard) Error(string, ...any)       {}
func (discard) Fatal(string, ...any)       {}
func (discard) WithFields(...Field) Logger { return discard{} }
func (discard) SetLevel(Level)             {}
func (discard) Level() Level               { return FATAL }
