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

package sources

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SourceConfigFactory defines the function signature for creating a SourceConfig.
type SourceConfigFactory func(ctx context.Context, name string, decoder *yaml.Decoder) (SourceConfig, error)

var sourceRegistry = make(map[string]SourceConfigFactory)

// Register registers a new source type with its factory.
// It returns false if the type is already registered.
func Register(sourceType string, factory SourceConfigFactory) bool {
	if _, exists := sourceRegistry[sourceType]; exists {
		// Source with this type already exists, do not overwrite.
		return false
	}
	sourceRegistry[sourceType] = factory
	return true
}

// DecodeConfig decodes a source configuration using the registered factory for the given type.
func DecodeConfig(ctx context.Context, sourceType string, name string, decoder *yaml.Decoder) (SourceConfig, error) {
	factory, found := sourceRegistry[sourceType]
	if !found {
		return nil, fmt.Errorf("unknown source type: %q", sourceType)
	}
	sourceConfig, err := factory(ctx, name, decoder)
	if err != nil {
		return nil, fmt.Errorf("unable to parse source %q as %q: %w", name, sourceType, err)
	}
	return sourceConfig, err
}

// SourceConfig is the interface for configuring a source. deps holds the
// initialized sources named by Dependencies, if the config has any.
type SourceConfig interface {
	SourceConfigType() string
	Initialize(ctx context.Context, tracer trace.Tracer, deps map[string]Source) (Source, error)
}

// Dependent is implemented by configs that need other sources to be
// initialized first.
type Dependent interface {
	Dependencies() []string
}

// Source is the interface for the source itself.
type Source interface {
	SourceType() string
	ToConfig() SourceConfig
}

// StoreSource is a source that provides a shared metadata cache.
type StoreSource interface {
	Source
	Store() cache.Store
}

// Closer is implemented by sources holding resources that outlive a request.
type Closer interface {
	Close(ctx context.Context) error
}

// InitConnectionSpan adds a span for source connection initialization
func InitConnectionSpan(ctx context.Context, tracer trace.Tracer, sourceType, sourceName string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(
		ctx,
		"tabular/server/source/connect",
		trace.WithAttributes(attribute.String("source_type", sourceType)),
		trace.WithAttributes(attribute.String("source_name", sourceName)),
	)
	return ctx, span
}

// InitOrder returns the names of configs sorted so that every source comes
// after its dependencies. Sources without an ordering constraint are sorted by
// name.
func InitOrder(configs map[string]SourceConfig) ([]string, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(configs))
	order := make([]string, 0, len(configs))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("circular source dependency: %v", append(path, name))
		}
		state[name] = visiting
		if d, ok := configs[name].(Dependent); ok {
			deps := slices.Clone(d.Dependencies())
			sort.Strings(deps)
			for _, dep := range deps {
				if _, ok := configs[dep]; !ok {
					return fmt.Errorf("source %q depends on unknown source %q", name, dep)
				}
				if err := visit(dep, append(path, name)); err != nil {
					return err
				}
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// DependenciesOf returns the initialized dependencies of cfg taken from
// initialized.
func DependenciesOf(cfg SourceConfig, initialized map[string]Source) (map[string]Source, error) {
	d, ok := cfg.(Dependent)
	if !ok {
		return nil, nil
	}
	deps := make(map[string]Source)
	for _, name := range d.Dependencies() {
		s, ok := initialized[name]
		if !ok {
			return nil, fmt.Errorf("source %q is not initialized", name)
		}
		deps[name] = s
	}
	return deps, nil
}
