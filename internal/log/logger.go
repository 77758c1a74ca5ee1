// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the interface used throughout the project for logging.
type Logger interface {
	// DebugContext is for reporting additional information about internal operations.
	DebugContext(ctx context.Context, format string, args ...any)
	// InfoContext is for reporting informational messages.
	InfoContext(ctx context.Context, format string, args ...any)
	// WarnContext is for reporting warning messages.
	WarnContext(ctx context.Context, format string, args ...any)
	// ErrorContext is for reporting errors.
	ErrorContext(ctx context.Context, format string, args ...any)
}

const (
	Debug = "DEBUG"
	Info  = "INFO"
	Warn  = "WARN"
	Error = "ERROR"
)

// NewLogger creates a new logger based on the provided format and level.
func NewLogger(format, level string, out, err io.Writer) (Logger, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewStructuredLogger(out, err, level)
	case "standard":
		return NewStdLogger(out, err, level)
	default:
		return nil, fmt.Errorf("logging format invalid: %s", format)
	}
}

// NewDiscardLogger returns a Logger that drops every record.
func NewDiscardLogger() Logger {
	h := slog.NewTextHandler(io.Discard, nil)
	return &splitLogger{out: slog.New(h), err: slog.New(h)}
}

// splitLogger sends debug and info records to one handler and warnings and
// errors to another.
type splitLogger struct {
	out *slog.Logger
	err *slog.Logger
}

func (l *splitLogger) DebugContext(ctx context.Context, msg string, keysAndValues ...any) {
	l.out.DebugContext(ctx, msg, keysAndValues...)
}

func (l *splitLogger) InfoContext(ctx context.Context, msg string, keysAndValues ...any) {
	l.out.InfoContext(ctx, msg, keysAndValues...)
}

func (l *splitLogger) WarnContext(ctx context.Context, msg string, keysAndValues ...any) {
	l.err.WarnContext(ctx, msg, keysAndValues...)
}

func (l *splitLogger) ErrorContext(ctx context.Context, msg string, keysAndValues ...any) {
	l.err.ErrorContext(ctx, msg, keysAndValues...)
}

// NewStdLogger creates a Logger writing space separated values, informational
// records to outW and the rest to errW.
func NewStdLogger(outW, errW io.Writer, logLevel string) (Logger, error) {
	level, err := levelVar(logLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	return &splitLogger{
		out: slog.New(NewValueTextHandler(outW, opts)),
		err: slog.New(NewValueTextHandler(errW, opts)),
	}, nil
}

// NewStructuredLogger creates a Logger that writes one JSON object per record.
func NewStructuredLogger(outW, errW io.Writer, logLevel string) (Logger, error) {
	level, err := levelVar(logLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: renameAttr,
	}
	return &splitLogger{
		out: slog.New(withSpanContext(slog.NewJSONHandler(outW, opts))),
		err: slog.New(withSpanContext(slog.NewJSONHandler(errW, opts))),
	}, nil
}

func levelVar(logLevel string) (*slog.LevelVar, error) {
	slogLevel, err := SeverityToLevel(logLevel)
	if err != nil {
		return nil, err
	}
	v := new(slog.LevelVar)
	v.Set(slogLevel)
	return v, nil
}

func renameAttr(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		sev, _ := levelToSeverity(a.Value.String())
		return slog.String("severity", sev)
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: a.Value}
	case slog.SourceKey:
		return slog.Attr{Key: "sourceLocation", Value: a.Value}
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: a.Value}
	}
	return a
}

// SeverityToLevel returns the slog level named by s.
func SeverityToLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case Debug:
		return slog.LevelDebug, nil
	case Info:
		return slog.LevelInfo, nil
	case Warn:
		return slog.LevelWarn, nil
	case Error:
		return slog.LevelError, nil
	default:
		return slog.Level(-5), fmt.Errorf("invalid log level")
	}
}

func levelToSeverity(s string) (string, error) {
	switch s {
	case slog.LevelDebug.String():
		return Debug, nil
	case slog.LevelInfo.String():
		return Info, nil
	case slog.LevelWarn.String():
		return Warn, nil
	case slog.LevelError.String():
		return Error, nil
	default:
		return "", fmt.Errorf("invalid slog level")
	}
}
