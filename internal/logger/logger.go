// Package logger provides logging support for mdns-tunnel using log/slog.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
)

// Options selects the log sinks and level.
type Options struct {
	// Foreground logs to stdout in addition to the other sinks.
	Foreground bool
	// Logfile, when set, appends log records to this file.
	Logfile string
	// Verbose emits Info records; otherwise only Warning and above.
	Verbose bool
	// Debug emits Debug records (implies Verbose).
	Debug bool
	// Syslog sends records to the local syslog daemon when reachable.
	Syslog bool
	// Tag is the syslog identity. Defaults to "mdns-tunnel".
	Tag string
}

// multiHandler fans out log records to multiple slog.Handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// Logger wraps slog.Logger with printf-style Info/Warning/Error methods and
// structured attributes attached through With.
type Logger struct {
	slog        *slog.Logger
	monitor     *slog.Logger // lifecycle log, nil unless SetMonitor was called
	monitorFile *os.File
	logFile     *os.File
}

// New creates a Logger for the sinks selected in opts.
func New(opts Options) (*Logger, error) {
	level := slog.LevelWarn
	switch {
	case opts.Debug:
		level = slog.LevelDebug
	case opts.Verbose:
		level = slog.LevelInfo
	}
	tag := opts.Tag
	if tag == "" {
		tag = "mdns-tunnel"
	}

	var handlers []slog.Handler
	l := &Logger{}

	if opts.Syslog {
		sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
		if err == nil {
			handlers = append(handlers, slog.NewTextHandler(syslogWriter{sw}, &slog.HandlerOptions{
				Level: level,
				// syslog stamps its own time.
				ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}))
		}
	}

	if opts.Foreground {
		handlers = append(handlers, slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
	}

	if opts.Logfile != "" {
		f, err := os.OpenFile(opts.Logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("cannot open logfile %s: %w", opts.Logfile, err)
		}
		l.logFile = f
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level: level,
		}))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: level,
		}))
	}

	var handler slog.Handler
	if len(handlers) == 1 {
		handler = handlers[0]
	} else {
		handler = &multiHandler{handlers: handlers}
	}
	l.slog = slog.New(handler)
	return l, nil
}

// NewWriter returns a Logger writing text records at the given level to w.
// Tests use it to capture output.
func NewWriter(w io.Writer, level slog.Level) *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, slog.LevelError+1)
}

// With returns a Logger that attaches the given key/value attributes to every
// record. The monitor log is shared with the parent.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:    l.slog.With(args...),
		monitor: l.monitor,
	}
}

// SetMonitor opens a monitor log file that always records at Info level.
// The monitor log captures lifecycle events (startup, shutdown) and all warnings/errors.
func (l *Logger) SetMonitor(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("cannot open monitor log %s: %w", path, err)
	}
	l.monitorFile = f
	l.monitor = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return nil
}

// Monitor writes a message to the monitor log only. No-op without SetMonitor.
func (l *Logger) Monitor(format string, args ...any) {
	if l.monitor != nil {
		l.monitor.Info(fmt.Sprintf(format, args...))
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.slog.Debug(fmt.Sprintf(format, args...))
}

// Info logs an informational message (only emitted when verbose is enabled).
func (l *Logger) Info(format string, args ...any) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

// Warning logs a warning message, also to the monitor log.
func (l *Logger) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.slog.Warn(msg)
	if l.monitor != nil {
		l.monitor.Warn(msg)
	}
}

// Error logs an error message, also to the monitor log.
func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.slog.Error(msg)
	if l.monitor != nil {
		l.monitor.Error(msg)
	}
}

// Close flushes and closes the monitor log and logfile if open.
func (l *Logger) Close() {
	if l.monitorFile != nil {
		l.monitorFile.Sync()
		l.monitorFile.Close()
		l.monitorFile = nil
		l.monitor = nil
	}
	if l.logFile != nil {
		l.logFile.Sync()
		l.logFile.Close()
		l.logFile = nil
	}
}

// syslogWriter adapts *syslog.Writer to io.Writer.
type syslogWriter struct {
	w *syslog.Writer
}

func (s syslogWriter) Write(p []byte) (n int, err error) {
	return len(p), s.w.Info(string(p))
}
