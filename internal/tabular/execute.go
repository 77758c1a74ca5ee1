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

	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/codes"
)

// Execute sends an administrative script, such as TMSL, and returns the
// affected count: the number of result rows when the server returns a
// rowset, otherwise 1. Failures are not retried.
func (c *Client) Execute(ctx context.Context, script string) (_ int, err error) {
	if err := util.CheckContext(ctx, "execute"); err != nil {
		return 0, err
	}
	ctx, span := c.instr.Tracer.Start(ctx, "tabular/execute")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s, err := c.open(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer s.Close(ctx)
	rs, err := s.Execute(ctx, xmla.Statement{Text: script})
	if err != nil {
		return 0, err
	}
	rows, err := rs.Rows()
	if err != nil {
		return 0, err
	}
	if len(rs.Columns) == 0 {
		return 1, nil
	}
	return len(rows), nil
}

// Process fully refreshes objects.
func (c *Client) Process(ctx context.Context, objects ...xmla.ProcessObject) (int, error) {
	return c.ProcessType(ctx, xmla.RefreshFull, objects...)
}

// ProcessType refreshes objects with the given refresh type. The cached
// descriptions of every affected database are dropped on success.
func (c *Client) ProcessType(ctx context.Context, t xmla.RefreshType, objects ...xmla.ProcessObject) (_ int, err error) {
	defer func() { telemetry.Record(ctx, c.instr.Process, c.name, err) }()
	b := xmla.NewScriptBuilder(c.jsonMode).WithType(t).Add(objects...)
	script, err := b.Build()
	if err != nil {
		return 0, util.NewConfigurationError("invalid process request", err)
	}
	c.logger.DebugContext(ctx, fmt.Sprintf("processing %d object(s) on %q", len(objects), c.name))
	n, err := c.Execute(ctx, script)
	if err != nil {
		return 0, err
	}
	for _, db := range b.Databases() {
		c.invalidateDescribe(ctx, db)
	}
	c.logger.InfoContext(ctx, fmt.Sprintf("processed %v on %q", b.Databases(), c.name))
	return n, nil
}

// ProcessDatabase fully refreshes a database, or one of its tables or
// partitions when those are given.
func (c *Client) ProcessDatabase(ctx context.Context, database, table, partition string) (int, error) {
	return c.Process(ctx, xmla.ProcessObject{Database: database, Table: table, Partition: partition})
}
