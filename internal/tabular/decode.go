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

package tabular

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
)

// RowMapper converts one result row.
type RowMapper[T any] func(xmla.Row) (T, error)

// RawRow returns rows unchanged.
func RawRow(row xmla.Row) (xmla.Row, error) { return row, nil }

// MapRow returns a row as a map keyed by column name.
func MapRow(row xmla.Row) (map[string]any, error) { return row.Map(), nil }

var timeType = reflect.TypeOf(time.Time{})

// DecodeRow fills a T from row. Fields are matched by their mapstructure tag,
// which may be written as "[Column]" or "Table[Column]", ignoring case. Null
// values leave a field at its zero value, so pointer fields stay nil.
// Numbers, booleans and timestamps sent as text are converted.
func DecodeRow[T any](row xmla.Row) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		MatchName:        matchColumn,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(textToTime),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(row.Map()); err != nil {
		return out, err
	}
	return out, nil
}

func matchColumn(column, field string) bool {
	return strings.EqualFold(columnName(column), columnName(field))
}

// columnName strips the table and brackets off "Table[Column]".
func columnName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '['); i >= 0 && strings.HasSuffix(s, "]") {
		return s[i+1 : len(s)-1]
	}
	return s
}

func textToTime(from, to reflect.Type, data any) (any, error) {
	if to != timeType || from.Kind() != reflect.String {
		return data, nil
	}
	if t, ok := xmla.Convert(data.(string), "dateTime").(time.Time); ok {
		return t, nil
	}
	return data, nil
}
