// Package logger provides leveled, prefix-tagged logging for all gateline
// components. Output goes to stderr so pipeline results on stdout stay clean.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level represents log verbosity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.RWMutex
	level   = LevelInfo
	colored = true
	out     io.Writer = os.Stderr
)

var styles = map[Level]lipgloss.Style{
	LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#7AA2F7")),
	LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A")),
	LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E0AF68")),
	LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#F7768E")),
}

var labels = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var styleFaint = lipgloss.NewStyle().Faint(true)

// Logger is a named logger. Components create one per package:
//
//	var log = logger.New("safety")
type Logger struct {
	prefix string
}

// New creates a logger with the given component prefix.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// ParseLevel converts a level name to a Level. The empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
}

// SetLevel sets the global log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetColored enables or disables ANSI color output.
func SetColored(c bool) {
	mu.Lock()
	defer mu.Unlock()
	colored = c
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func (l *Logger) logf(lv Level, format string, args ...any) {
	mu.RLock()
	if lv < level {
		mu.RUnlock()
		return
	}
	w, useColor := out, colored
	mu.RUnlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	if useColor {
		fmt.Fprintf(w, "%s %s %s %s\n",
			styleFaint.Render(ts),
			styles[lv].Render("["+labels[lv]+"]"),
			styleFaint.Render("["+l.prefix+"]"),
			msg)
		return
	}
	fmt.Fprintf(w, "%s [%s] [%s] %s\n", ts, labels[lv], l.prefix, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Error logs an error.
func (l *Logger) Error(format string, args ...any) { l.logf(LevelError, format, args...) }
