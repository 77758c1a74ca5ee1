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

package resources_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/tabular-toolbox/internal/server/resources"
	"github.com/googleapis/tabular-toolbox/internal/sources"
)

type fakeSource struct {
	name string
}

func (f *fakeSource) SourceType() string             { return "fake" }
func (f *fakeSource) ToConfig() sources.SourceConfig { return nil }

func TestUpdateServer(t *testing.T) {
	first := map[string]sources.Source{
		"olap": &fakeSource{name: "olap"},
		"aas":  &fakeSource{name: "aas"},
	}
	resMgr := resources.NewResourceManager(first)

	gotSource, ok := resMgr.GetSource("olap")
	if !ok || gotSource != first["olap"] {
		t.Fatalf("GetSource(olap) = %v, %v", gotSource, ok)
	}
	if diff := cmp.Diff([]string{"aas", "olap"}, resMgr.SourceNames()); diff != "" {
		t.Errorf("unexpected source names (-want +got):\n%s", diff)
	}

	copied := resMgr.GetSourcesMap()
	delete(copied, "olap")
	if _, ok := resMgr.GetSource("olap"); !ok {
		t.Fatalf("mutating the copy changed the manager")
	}

	second := map[string]sources.Source{"olap2": &fakeSource{name: "olap2"}}
	old := resMgr.SetResources(second)
	if len(old) != 2 || old["aas"] != first["aas"] {
		t.Errorf("SetResources returned %v, want the first set", old)
	}
	if _, ok := resMgr.GetSource("olap"); ok {
		t.Errorf("olap should be gone after the swap")
	}
	if diff := cmp.Diff([]string{"olap2"}, resMgr.SourceNames()); diff != "" {
		t.Errorf("unexpected source names (-want +got):\n%s", diff)
	}
}
