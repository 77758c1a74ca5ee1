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

package query

import (
	"context"
	"strconv"
	"strings"

	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"github.com/spf13/cobra"
)

type result struct {
	Columns []string   `json:"columns"`
	Rows    []xmla.Row `json:"rows"`
	Count   int        `json:"count"`
}

func NewCommand(opts *internal.ToolboxOptions) *cobra.Command {
	var (
		database      string
		effectiveUser string
		params        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "query <source> <query>",
		Short: "Run a DAX or MDX query and print the rows",
		Long: `Run a DAX or MDX query against a source and print the rows as JSON.
Parameters are given as name=value pairs. Integer, decimal and boolean
values keep their type, everything else is sent as text.
Example:
  tabular-toolbox query olap 'EVALUATE FILTER(Sales, Sales[Year] = @year)' --database Sales --param year=2024`,
		Args: cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			spec := tabular.QuerySpec{
				Query: args[1],
				Settings: &tabular.QuerySettings{
					Database:          database,
					EffectiveUserName: effectiveUser,
				},
				Params: parseParams(params),
			}
			return opts.RunWithClient(c, args[0], func(ctx context.Context, client *tabular.Client) (any, error) {
				res, err := client.QueryTable(ctx, spec)
				if err != nil {
					return nil, err
				}
				return result{Columns: res.ColumnNames(), Rows: res.Rows, Count: len(res.Rows)}, nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&database, "database", "", "Database (catalog) the query runs in. Defaults to the catalog of the connection string.")
	flags.StringVar(&effectiveUser, "effective-user", "", "Runs the query as this user.")
	flags.StringToStringVar(&params, "param", map[string]string{}, "Query parameter as name=value. Can be specified multiple times.")
	return cmd
}

func parseParams(in map[string]string) tabular.Params {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]any, len(in))
	for name, v := range in {
		m[name] = parseValue(v)
	}
	return tabular.ParamsFromMap(m)
}

func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
