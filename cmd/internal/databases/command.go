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

package databases

import (
	"context"

	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/spf13/cobra"
)

func NewCommand(opts *internal.ToolboxOptions) *cobra.Command {
	var locks bool
	cmd := &cobra.Command{
		Use:   "databases <source> [database]",
		Short: "List the databases of a source, or describe one",
		Long: `Without a database, list the databases of a source. With one, print
its tables and partitions with their sizes and row counts, or its locks
when --locks is set.
Example:
  tabular-toolbox databases olap
  tabular-toolbox databases olap Sales`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			return opts.RunWithClient(c, args[0], func(ctx context.Context, client *tabular.Client) (any, error) {
				if len(args) == 1 {
					dbs, err := client.Databases(ctx)
					if dbs == nil {
						dbs = []tabular.Database{}
					}
					return dbs, err
				}
				if locks {
					ls, err := client.Locks(ctx, args[1])
					if ls == nil {
						ls = []tabular.Lock{}
					}
					return ls, err
				}
				return client.Describe(ctx, args[1])
			})
		},
	}
	cmd.Flags().BoolVar(&locks, "locks", false, "Print the locks held on the database instead of its description.")
	return cmd
}
