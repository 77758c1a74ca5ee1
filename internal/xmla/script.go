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

package xmla

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSONMode controls how empty object fields are written.
type JSONMode int

const (
	// JSONModeDefault writes empty fields as "".
	JSONModeDefault JSONMode = iota
	// JSONModeIgnoreEmpty leaves empty fields out.
	JSONModeIgnoreEmpty
)

// RefreshType is the type of a TMSL refresh command.
type RefreshType string

const (
	RefreshFull        RefreshType = "full"
	RefreshAutomatic   RefreshType = "automatic"
	RefreshDataOnly    RefreshType = "dataOnly"
	RefreshCalculate   RefreshType = "calculate"
	RefreshClearValues RefreshType = "clearValues"
	RefreshDefragment  RefreshType = "defragment"
	RefreshAdd         RefreshType = "add"
)

var refreshTypes = map[RefreshType]bool{
	RefreshFull: true, RefreshAutomatic: true, RefreshDataOnly: true, RefreshCalculate: true,
	RefreshClearValues: true, RefreshDefragment: true, RefreshAdd: true,
}

// ParseRefreshType accepts a refresh type in any letter case.
func ParseRefreshType(s string) (RefreshType, error) {
	if s == "" {
		return RefreshFull, nil
	}
	for t := range refreshTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown refresh type %q", s)
}

// ProcessObject addresses a database, a table or a partition. Blank fields
// are treated as unset.
type ProcessObject struct {
	Database  string `json:"database" yaml:"database"`
	Table     string `json:"table" yaml:"table"`
	Partition string `json:"partition" yaml:"partition"`
}

func (o ProcessObject) normalized() ProcessObject {
	return ProcessObject{
		Database:  strings.TrimSpace(o.Database),
		Table:     strings.TrimSpace(o.Table),
		Partition: strings.TrimSpace(o.Partition),
	}
}

// ParseProcessObject reads "db", "db/table" or "db/table/partition".
func ParseProcessObject(s string) (ProcessObject, error) {
	parts := strings.Split(s, "/")
	if len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
		return ProcessObject{}, fmt.Errorf("invalid object %q: want database[/table[/partition]]", s)
	}
	var o ProcessObject
	o.Database = parts[0]
	if len(parts) > 1 {
		o.Table = parts[1]
	}
	if len(parts) > 2 {
		o.Partition = parts[2]
	}
	return o.normalized(), nil
}

type sparseObject struct {
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Partition string `json:"partition,omitempty"`
}

// ScriptBuilder collects objects for a TMSL refresh command.
type ScriptBuilder struct {
	mode        JSONMode
	refreshType RefreshType
	objects     []ProcessObject
}

func NewScriptBuilder(mode JSONMode) *ScriptBuilder {
	return &ScriptBuilder{mode: mode, refreshType: RefreshFull}
}

// WithType changes the refresh type, which defaults to full.
func (b *ScriptBuilder) WithType(t RefreshType) *ScriptBuilder {
	b.refreshType = t
	return b
}

// Add appends objects in order.
func (b *ScriptBuilder) Add(objects ...ProcessObject) *ScriptBuilder {
	for _, o := range objects {
		b.objects = append(b.objects, o.normalized())
	}
	return b
}

func (b *ScriptBuilder) AddObject(database, table, partition string) *ScriptBuilder {
	return b.Add(ProcessObject{Database: database, Table: table, Partition: partition})
}

func (b *ScriptBuilder) Objects() []ProcessObject {
	return append([]ProcessObject(nil), b.objects...)
}

// Databases returns the distinct databases addressed, in first-seen order.
func (b *ScriptBuilder) Databases() []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range b.objects {
		if o.Database != "" && !seen[o.Database] {
			seen[o.Database] = true
			out = append(out, o.Database)
		}
	}
	return out
}

// Build returns the refresh script.
func (b *ScriptBuilder) Build() (string, error) {
	if len(b.objects) == 0 {
		return "", fmt.Errorf("refresh script has no objects")
	}
	if !refreshTypes[b.refreshType] {
		return "", fmt.Errorf("unknown refresh type %q", b.refreshType)
	}

	var objects any = b.objects
	if b.mode == JSONModeIgnoreEmpty {
		sparse := make([]sparseObject, len(b.objects))
		for i, o := range b.objects {
			sparse[i] = sparseObject(o)
		}
		objects = sparse
	}
	script := map[string]any{
		"refresh": struct {
			Type    RefreshType `json:"type"`
			Objects any         `json:"objects"`
		}{b.refreshType, objects},
	}
	out, err := json.Marshal(script)
	if err != nil {
		return "", fmt.Errorf("unable to encode refresh script: %w", err)
	}
	return string(out), nil
}
