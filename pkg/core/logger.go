package core

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
)

// Logger is the logging abstraction used by supervisors and workers.
// Worker loggers are usually derived with Named so every line carries the
// worker id.
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	// Named returns a logger that prefixes every line with name.
	Named(name string) Logger
}

// defaultLogger writes level-prefixed lines through the standard log package.
type defaultLogger struct {
	prefix      string
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// NewDefaultLogger creates a logger writing errors and warnings to stderr,
// info and debug lines to stdout.
func NewDefaultLogger() Logger {
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger:  log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
		infoLogger:  log.New(os.Stdout, "[INFO] ", log.LstdFlags|log.Lshortfile),
		debugLogger: log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lshortfile),
	}
}

// NewWriterLogger creates a default-format logger writing every level to w.
func NewWriterLogger(w io.Writer) Logger {
	return &defaultLogger{
		errorLogger: log.New(w, "[ERROR] ", log.LstdFlags),
		warnLogger:  log.New(w, "[WARN] ", log.LstdFlags),
		infoLogger:  log.New(w, "[INFO] ", log.LstdFlags),
		debugLogger: log.New(w, "[DEBUG] ", log.LstdFlags),
	}
}

// NopLogger discards everything.
func NopLogger() Logger {
	return NewWriterLogger(io.Discard)
}

func (l *defaultLogger) output(lg *log.Logger, msg string) {
	if l.prefix != "" {
		msg = l.prefix + " " + msg
	}
	_ = lg.Output(3, msg)
}

func (l *defaultLogger) Error(args ...interface{}) { l.output(l.errorLogger, fmt.Sprint(args...)) }

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.output(l.errorLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Warn(args ...interface{}) { l.output(l.warnLogger, fmt.Sprint(args...)) }

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.output(l.warnLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Info(args ...interface{}) { l.output(l.infoLogger, fmt.Sprint(args...)) }

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.output(l.infoLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(args ...interface{}) { l.output(l.debugLogger, fmt.Sprint(args...)) }

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.output(l.debugLogger, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Named(name string) Logger {
	cp := *l
	if cp.prefix == "" {
		cp.prefix = "[" + name + "]"
	} else {
		cp.prefix = cp.prefix + "[" + name + "]"
	}
	return &cp
}

// slogLogger adapts a *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l; a nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Error(args ...interface{}) { s.l.Error(fmt.Sprint(args...)) }
func (s *slogLogger) Errorf(format string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Warn(args ...interface{}) { s.l.Warn(fmt.Sprint(args...)) }
func (s *slogLogger) Warnf(format string, args ...interface{}) {
	s.l.Warn(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Info(args ...interface{}) { s.l.Info(fmt.Sprint(args...)) }
func (s *slogLogger) Infof(format string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Debug(args ...interface{}) { s.l.Debug(fmt.Sprint(args...)) }
func (s *slogLogger) Debugf(format string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, args...))
}

func (s *slogLogger) Named(name string) Logger {
	return &slogLogger{l: s.l.With("id", name)}
}
