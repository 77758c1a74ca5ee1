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
	"bytes"
	"encoding/json"
	"strings"
)

// Column describes one field of a rowset.
type Column struct {
	// Name is the sql:field of the schema element when present, otherwise
	// the decoded element name.
	Name string
	// Element is the element name used inside rows.
	Element string
	// Type is the XSD type without its prefix, e.g. "long".
	Type string
}

// Row is one record of a rowset. Values line up with Columns and absent or
// xsi:nil fields are nil.
type Row struct {
	columns []Column
	values  []any
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []Column, values []any) Row {
	if len(values) < len(columns) {
		values = append(values, make([]any, len(columns)-len(values))...)
	}
	return Row{columns: columns, values: values[:len(columns)]}
}

func (r Row) Columns() []Column { return r.columns }

func (r Row) Values() []any { return r.values }

func (r Row) Len() int { return len(r.columns) }

// Index returns the position of the column called name, or -1. The exact name
// wins, then the name in brackets, then a case-insensitive match ignoring
// brackets, then a column whose qualified name ends in [name].
func (r Row) Index(name string) int {
	for i, c := range r.columns {
		if c.Name == name {
			return i
		}
	}
	bracketed := "[" + strings.Trim(name, "[]") + "]"
	for i, c := range r.columns {
		if c.Name == bracketed {
			return i
		}
	}
	plain := normalizeColumn(name)
	for i, c := range r.columns {
		if normalizeColumn(c.Name) == plain {
			return i
		}
	}
	suffix := strings.ToLower(bracketed)
	match := -1
	for i, c := range r.columns {
		if strings.HasSuffix(strings.ToLower(c.Name), suffix) {
			if match >= 0 {
				return -1
			}
			match = i
		}
	}
	return match
}

func normalizeColumn(s string) string {
	return strings.ToLower(strings.NewReplacer("[", "", "]", "").Replace(s))
}

// Get returns the value of the column called name.
func (r Row) Get(name string) (any, bool) {
	i := r.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// String returns the column value as text, or "" when it is nil or absent.
func (r Row) String(name string) string {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return strings.Trim(string(b), `"`)
}

// Map returns the row keyed by column name.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c.Name] = r.values[i]
	}
	return m
}

// MarshalJSON writes the row as an object whose keys keep column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
