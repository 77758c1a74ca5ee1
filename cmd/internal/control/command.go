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

package control

import (
	"context"
	"fmt"

	"github.com/googleapis/tabular-toolbox/cmd/internal"
	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/spf13/cobra"
)

type result struct {
	Server  azureas.Server `json:"server"`
	Online  bool           `json:"online"`
	Reached *bool          `json:"reached,omitempty"`
}

func NewCommand(opts *internal.ToolboxOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage an Azure Analysis Services server",
		Long: `Pause, resume, scale or inspect the server behind a cloud source. The
source needs an azure block with subscriptionId and resourceGroupName.`,
	}
	cmd.AddCommand(
		transitionCommand(opts, "pause", "Pause the server", (*azureas.Controller).Pause),
		transitionCommand(opts, "resume", "Resume the server", (*azureas.Controller).Resume),
		statusCommand(opts),
		scaleCommand(opts),
	)
	return cmd
}

func withController(opts *internal.ToolboxOptions, c *cobra.Command, source string, fn func(context.Context, *azureas.Controller) (any, error)) error {
	return opts.RunWithClient(c, source, func(ctx context.Context, client *tabular.Client) (any, error) {
		ctrl, err := client.Controller()
		if err != nil {
			return nil, err
		}
		return fn(ctx, ctrl)
	})
}

func transitionCommand(opts *internal.ToolboxOptions, use, short string, fn func(*azureas.Controller, context.Context) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <source>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withController(opts, c, args[0], func(ctx context.Context, ctrl *azureas.Controller) (any, error) {
				reached, err := fn(ctrl, ctx)
				if err != nil {
					return nil, err
				}
				details, err := ctrl.Details(ctx)
				if err != nil {
					return nil, err
				}
				return result{Server: details, Online: details.IsOnline(), Reached: &reached}, nil
			})
		},
	}
}

func statusCommand(opts *internal.ToolboxOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <source>",
		Short: "Print the state, SKU and capacity of the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withController(opts, c, args[0], func(ctx context.Context, ctrl *azureas.Controller) (any, error) {
				details, err := ctrl.Details(ctx)
				if err != nil {
					return nil, err
				}
				return result{Server: details, Online: details.IsOnline()}, nil
			})
		},
	}
}

func scaleCommand(opts *internal.ToolboxOptions) *cobra.Command {
	var (
		sku      string
		capacity int32
	)
	cmd := &cobra.Command{
		Use:   "scale <source> --sku S1",
		Short: "Change the SKU and replica capacity of the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if capacity < 0 {
				return fmt.Errorf("invalid capacity %d", capacity)
			}
			return withController(opts, c, args[0], func(ctx context.Context, ctrl *azureas.Controller) (any, error) {
				details, err := ctrl.Scale(ctx, sku, capacity)
				if err != nil {
					return nil, err
				}
				return result{Server: details, Online: details.IsOnline()}, nil
			})
		},
	}
	cmd.Flags().StringVar(&sku, "sku", "", "Target SKU, for example B1, S2 or D1.")
	cmd.Flags().Int32Var(&capacity, "capacity", 0, "Number of query replicas. 0 keeps the current capacity.")
	_ = cmd.MarkFlagRequired("sku")
	return cmd
}
