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

package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/googleapis/tabular-toolbox/internal/server"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/spf13/cobra"
)

// closure returns name and every source it depends on, directly or not.
func closure(configs server.SourceConfigs, name string) (server.SourceConfigs, error) {
	out := make(server.SourceConfigs)
	var visit func(string) error
	visit = func(n string) error {
		if _, ok := out[n]; ok {
			return nil
		}
		cfg, ok := configs[n]
		if !ok {
			return fmt.Errorf("source %q is not configured", n)
		}
		out[n] = cfg
		if d, ok := cfg.(sources.Dependent); ok {
			for _, dep := range d.Dependencies() {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(name); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenClient initializes the named source, and only the sources it depends
// on, and returns its tabular client. The returned func releases them.
func (opts *ToolboxOptions) OpenClient(ctx context.Context, name string) (*tabular.Client, func(), error) {
	configs, err := closure(opts.Cfg.SourceConfigs, name)
	if err != nil {
		return nil, nil, err
	}
	cfg := opts.Cfg
	cfg.SourceConfigs = configs
	sourcesMap, err := server.InitializeConfigs(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize sources: %w", err)
	}
	release := func() { server.CloseSources(context.WithoutCancel(ctx), opts.Logger, sourcesMap) }

	cs, ok := sourcesMap[name].(interface{ Client() *tabular.Client })
	if !ok {
		release()
		return nil, nil, fmt.Errorf("source %q of type %q is not a tabular server", name, configs[name].SourceConfigType())
	}
	return cs.Client(), release, nil
}

// RunWithClient sets up logging and telemetry, opens the named source and
// prints the result of fn as indented JSON on Out.
func (opts *ToolboxOptions) RunWithClient(cmd *cobra.Command, source string, fn func(context.Context, *tabular.Client) (any, error)) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx, shutdown, err := opts.Setup(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdown(ctx)
	}()

	if err := opts.LoadConfig(ctx); err != nil {
		return err
	}

	client, release, err := opts.OpenClient(ctx, source)
	if err != nil {
		opts.Logger.ErrorContext(ctx, err.Error())
		return err
	}
	defer release()

	result, err := fn(ctx, client)
	if err != nil {
		errMsg := fmt.Errorf("%s failed: %w", cmd.Name(), err)
		opts.Logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		errMsg := fmt.Errorf("failed to marshal result: %w", err)
		opts.Logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	fmt.Fprintln(opts.IOStreams.Out, string(output))
	return nil
}
