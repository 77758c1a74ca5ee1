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

package tabular

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SkipPolicy decides whether a parameter is sent.
type SkipPolicy int

const (
	SkipNever SkipPolicy = iota
	SkipIfNull
	SkipAlways
)

// Parameter is a named query parameter.
type Parameter struct {
	Name  string
	Value any
	Skip  SkipPolicy
}

func (p Parameter) skipped() bool {
	switch p.Skip {
	case SkipAlways:
		return true
	case SkipIfNull:
		return p.Value == nil
	}
	return false
}

// Parameters supplies the parameters of a query.
type Parameters interface {
	QueryParameters() []Parameter
}

// Params is a list of parameters sent in order.
type Params []Parameter

func (p Params) QueryParameters() []Parameter { return p }

// ParamsFromMap turns m into parameters ordered by name. Nothing is skipped.
func ParamsFromMap(m map[string]any) Params {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	p := make(Params, 0, len(names))
	for _, n := range names {
		p = append(p, Parameter{Name: n, Value: m[n]})
	}
	return p
}

// QuerySettings changes the session a query runs in.
type QuerySettings struct {
	Database          string
	EffectiveUserName string
	Timeout           time.Duration
}

// QuerySpec is a DAX, MDX or DMV query and its parameters.
type QuerySpec struct {
	Query    string
	Params   Parameters
	Settings *QuerySettings
}

func (q QuerySpec) parameters() []xmla.Parameter {
	if q.Params == nil {
		return nil
	}
	var out []xmla.Parameter
	for _, p := range q.Params.QueryParameters() {
		if p.skipped() {
			continue
		}
		out = append(out, xmla.Parameter{Name: strings.TrimPrefix(p.Name, "@"), Value: p.Value})
	}
	return out
}

// Rows is a lazy, single-pass result. Closing it, or stopping an iteration
// early, closes the response and the session.
type Rows[T any] struct {
	ctx     context.Context
	session *session.Session
	rowset  *xmla.Rowset
	mapper  RowMapper[T]
	closed  bool
	err     error
}

// Columns returns the columns of the result.
func (r *Rows[T]) Columns() []xmla.Column { return r.rowset.Columns }

// Warnings returns the warnings the server sent before the first row.
func (r *Rows[T]) Warnings() []xmla.Message { return r.rowset.Warnings }

// All yields the mapped rows. A read or mapping error is yielded once and
// ends the iteration. The rows are closed when All returns.
func (r *Rows[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer r.Close()
		var zero T
		if r.closed {
			yield(zero, util.NewStateError("rows are already consumed", nil))
			return
		}
		for row, err := range r.rowset.All() {
			if err != nil {
				r.err = contextError(r.ctx, err)
				yield(zero, r.err)
				return
			}
			v, err := r.mapper(row)
			if err != nil {
				r.err = util.NewExecutionError("unable to map row", err)
				yield(zero, r.err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Collect reads every row.
func (r *Rows[T]) Collect() ([]T, error) {
	var out []T
	for v, err := range r.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Err returns the error that ended the iteration, if any.
func (r *Rows[T]) Err() error { return r.err }

// Close releases the response and the session. It is idempotent.
func (r *Rows[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rowset.Close()
	if cerr := r.session.Close(r.ctx); err == nil {
		err = cerr
	}
	return err
}

// Query runs q in a new session and maps every row with mapper. The rows
// must be closed or fully iterated.
func Query[T any](ctx context.Context, c *Client, q QuerySpec, mapper RowMapper[T]) (_ *Rows[T], err error) {
	if err := util.CheckContext(ctx, "query"); err != nil {
		return nil, err
	}
	ctx, span := c.instr.Tracer.Start(ctx, "tabular/query")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		telemetry.Record(ctx, c.instr.Query, c.name, err)
	}()
	span.SetAttributes(attribute.String("tabular.source", c.name))
	if q.Settings != nil && q.Settings.Database != "" {
		span.SetAttributes(attribute.String("tabular.database", q.Settings.Database))
	}

	s, err := c.open(ctx, q.Settings)
	if err != nil {
		return nil, err
	}
	rs, err := s.Query(ctx, q.Query, q.parameters()...)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	for _, w := range rs.Warnings {
		c.logger.WarnContext(ctx, fmt.Sprintf("query on %q returned warning %s: %s", c.name, w.Code, w.Description))
	}
	return &Rows[T]{ctx: ctx, session: s, rowset: rs, mapper: mapper}, nil
}

// QuerySeq runs q each time the sequence is iterated.
func QuerySeq[T any](ctx context.Context, c *Client, q QuerySpec, mapper RowMapper[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		rows, err := Query(ctx, c, q, mapper)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for v, err := range rows.All() {
			if !yield(v, err) {
				return
			}
		}
	}
}

// QueryResult holds the raw rows of a query together with the columns of the
// rowset schema, which are known even when no row is returned.
type QueryResult struct {
	Columns []xmla.Column
	Rows    []xmla.Row
}

// ColumnNames returns the names of the result columns, never nil.
func (r QueryResult) ColumnNames() []string {
	names := make([]string, 0, len(r.Columns))
	for _, col := range r.Columns {
		names = append(names, col.Name)
	}
	return names
}

// QueryTable runs q and returns the schema columns with the raw rows.
func (c *Client) QueryTable(ctx context.Context, q QuerySpec) (QueryResult, error) {
	rows, err := Query(ctx, c, q, RawRow)
	if err != nil {
		return QueryResult{}, err
	}
	cols := rows.Columns()
	out, err := rows.Collect()
	if err != nil {
		return QueryResult{}, err
	}
	if out == nil {
		out = []xmla.Row{}
	}
	return QueryResult{Columns: cols, Rows: out}, nil
}

// QueryRows runs q and returns the raw rows.
func (c *Client) QueryRows(ctx context.Context, q QuerySpec) ([]xmla.Row, error) {
	rows, err := Query(ctx, c, q, RawRow)
	if err != nil {
		return nil, err
	}
	return rows.Collect()
}

func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil && util.CategoryOf(err) != util.CategoryCancelled {
		return util.NewCancelledError("query cancelled", err)
	}
	return err
}
