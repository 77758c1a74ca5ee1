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

package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"github.com/spf13/cobra"
)

type result struct {
	Type    xmla.RefreshType     `json:"type"`
	Objects []xmla.ProcessObject `json:"objects"`
	Count   int                  `json:"count"`
}

func NewCommand(opts *internal.ToolboxOptions) *cobra.Command {
	var (
		objects     []string
		refreshType string
	)
	cmd := &cobra.Command{
		Use:   "process <source> --object db[/table[/partition]]",
		Short: "Refresh databases, tables or partitions",
		Long: `Refresh one or more objects of a source in a single command.
Example:
  tabular-toolbox process olap --object Sales/Orders --object Sales/Customer/2024 --type dataOnly`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			t, err := xmla.ParseRefreshType(refreshType)
			if err != nil {
				return err
			}
			objs, err := parseObjects(objects)
			if err != nil {
				return err
			}
			return opts.RunWithClient(c, args[0], func(ctx context.Context, client *tabular.Client) (any, error) {
				n, err := client.ProcessType(ctx, t, objs...)
				if err != nil {
					return nil, err
				}
				return result{Type: t, Objects: objs, Count: n}, nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&objects, "object", nil, "Object to refresh as database, database/table or database/table/partition. Can be specified multiple times.")
	flags.StringVar(&refreshType, "type", string(xmla.RefreshFull), "Refresh type: full, automatic, dataOnly, calculate, clearValues, defragment or add.")
	_ = cmd.MarkFlagRequired("object")
	return cmd
}

func parseObjects(in []string) ([]xmla.ProcessObject, error) {
	out := make([]xmla.ProcessObject, 0, len(in))
	for _, s := range in {
		parts := strings.Split(s, "/")
		if len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid object %q: want database[/table[/partition]]", s)
		}
		var o xmla.ProcessObject
		o.Database = parts[0]
		if len(parts) > 1 {
			o.Table = parts[1]
		}
		if len(parts) > 2 {
			o.Partition = parts[2]
		}
		out = append(out, o)
	}
	return out, nil
}
