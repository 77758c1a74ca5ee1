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

package sources_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"go.opentelemetry.io/otel/trace"
)

type fakeConfig struct {
	deps []string
}

func (f fakeConfig) SourceConfigType() string { return "fake" }

func (f fakeConfig) Initialize(context.Context, trace.Tracer, map[string]sources.Source) (sources.Source, error) {
	return nil, nil
}

func (f fakeConfig) Dependencies() []string { return f.deps }

type fakeSource struct{}

func (fakeSource) SourceType() string             { return "fake" }
func (fakeSource) ToConfig() sources.SourceConfig { return fakeConfig{} }

func TestInitOrder(t *testing.T) {
	tcs := []struct {
		desc    string
		configs map[string]sources.SourceConfig
		want    []string
	}{
		{
			desc: "independent sources sort by name",
			configs: map[string]sources.SourceConfig{
				"b": fakeConfig{}, "a": fakeConfig{}, "c": fakeConfig{},
			},
			want: []string{"a", "b", "c"},
		},
		{
			desc: "dependencies come first",
			configs: map[string]sources.SourceConfig{
				"aas":   fakeConfig{deps: []string{"redis"}},
				"olap":  fakeConfig{deps: []string{"redis"}},
				"redis": fakeConfig{},
			},
			want: []string{"redis", "aas", "olap"},
		},
		{
			desc: "chain",
			configs: map[string]sources.SourceConfig{
				"a": fakeConfig{deps: []string{"b"}},
				"b": fakeConfig{deps: []string{"c"}},
				"c": fakeConfig{},
			},
			want: []string{"c", "b", "a"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := sources.InitOrder(tc.configs)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("unexpected order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInitOrderErrors(t *testing.T) {
	tcs := []struct {
		desc    string
		configs map[string]sources.SourceConfig
		err     string
	}{
		{
			desc:    "unknown dependency",
			configs: map[string]sources.SourceConfig{"aas": fakeConfig{deps: []string{"redis"}}},
			err:     `source "aas" depends on unknown source "redis"`,
		},
		{
			desc: "cycle",
			configs: map[string]sources.SourceConfig{
				"a": fakeConfig{deps: []string{"b"}},
				"b": fakeConfig{deps: []string{"a"}},
			},
			err: "circular source dependency",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := sources.InitOrder(tc.configs)
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("got %v, want error containing %q", err, tc.err)
			}
		})
	}
}

func TestDependenciesOf(t *testing.T) {
	redis := fakeSource{}
	initialized := map[string]sources.Source{"redis": redis}

	got, err := sources.DependenciesOf(fakeConfig{deps: []string{"redis"}}, initialized)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(got) != 1 || got["redis"] != redis {
		t.Fatalf("DependenciesOf() = %v", got)
	}
	if _, err := sources.DependenciesOf(fakeConfig{deps: []string{"valkey"}}, initialized); err == nil {
		t.Fatalf("expected an error for a missing dependency")
	}
}
