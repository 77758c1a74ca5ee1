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
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ValueTextHandler writes each record as a single line of space separated
// values, for example:
//
//	2026-03-02T10:01:11.451377Z INFO "opened session" "westus"
type ValueTextHandler struct {
	h     slog.Handler
	mu    *sync.Mutex
	out   io.Writer
	attrs []slog.Attr
}

func NewValueTextHandler(out io.Writer, opts *slog.HandlerOptions) *ValueTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ValueTextHandler{
		out: out,
		h:   slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level}),
		mu:  &sync.Mutex{},
	}
}

func (h *ValueTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *ValueTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &ValueTextHandler{h: h.h.WithAttrs(attrs), out: h.out, mu: h.mu, attrs: merged}
}

func (h *ValueTextHandler) WithGroup(name string) slog.Handler {
	return &ValueTextHandler{h: h.h.WithGroup(name), out: h.out, mu: h.mu, attrs: h.attrs}
}

func (h *ValueTextHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := make([]byte, 0, 1024)
	if !r.Time.IsZero() {
		buf = appendValue(buf, slog.TimeValue(r.Time))
	}
	buf = appendValue(buf, slog.AnyValue(r.Level))
	buf = appendValue(buf, slog.StringValue(r.Message))
	for _, a := range h.attrs {
		buf = appendValue(buf, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendValue(buf, a.Value)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func appendValue(buf []byte, v slog.Value) []byte {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return fmt.Appendf(buf, "%q ", v.String())
	case slog.KindTime:
		return fmt.Appendf(buf, "%s ", v.Time().Format(time.RFC3339Nano))
	case slog.KindGroup:
		for _, ga := range v.Group() {
			buf = appendValue(buf, ga.Value)
		}
		return buf
	default:
		return fmt.Appendf(buf, "%s ", v)
	}
}

// spanContextHandler adds the ids of the active span to every record.
type spanContextHandler struct {
	slog.Handler
}

func withSpanContext(handler slog.Handler) *spanContextHandler {
	return &spanContextHandler{Handler: handler}
}

func (t *spanContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", s.TraceID().String()),
			slog.String("span_id", s.SpanID().String()),
			slog.Bool("trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return t.Handler.Handle(ctx, record)
}

func (t *spanContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanContextHandler{Handler: t.Handler.WithAttrs(attrs)}
}

func (t *spanContextHandler) WithGroup(name string) slog.Handler {
	return &spanContextHandler{Handler: t.Handler.WithGroup(name)}
}
