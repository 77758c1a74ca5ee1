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

package resources

import (
	"maps"
	"slices"
	"sync"

	"github.com/googleapis/tabular-toolbox/internal/sources"
)

// ResourceManager contains available resources for the server. Should be initialized with NewResourceManager().
type ResourceManager struct {
	mu      sync.RWMutex
	sources map[string]sources.Source
}

func NewResourceManager(sourcesMap map[string]sources.Source) *ResourceManager {
	return &ResourceManager{sources: sourcesMap}
}

func (r *ResourceManager) GetSource(sourceName string) (sources.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[sourceName]
	return source, ok
}

// SourceNames returns the sorted names of all sources.
func (r *ResourceManager) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.sources))
}

// GetSourcesMap returns a copy of the current source set.
func (r *ResourceManager) GetSourcesMap() map[string]sources.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.sources)
}

// SetResources swaps the source set and returns the one it replaced.
func (r *ResourceManager) SetResources(sourcesMap map[string]sources.Source) map[string]sources.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.sources
	r.sources = sourcesMap
	return old
}
