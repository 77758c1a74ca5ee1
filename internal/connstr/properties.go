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

// Package connstr parses and builds Analysis Services connection strings and
// turns them into immutable connection descriptors.
package connstr

import (
	"fmt"
	"strings"

	"github.com/googleapis/tabular-toolbox/internal/util"
)

const (
	KeyDataSource          = "Data Source"
	KeyCatalog             = "Catalog"
	KeyUserID              = "User ID"
	KeyPassword            = "Password"
	KeyCube                = "Cube"
	KeyProvider            = "Provider"
	KeyEffectiveUserName   = "EffectiveUserName"
	KeyImpersonationLevel  = "Impersonation Level"
	KeyEncryptPassword     = "Encrypt Password"
	KeyPersistSecurityInfo = "Persist Security Info"
	KeyIntegratedSecurity  = "Integrated Security"
	KeyLocaleIdentifier    = "LocaleIdentifier"
	KeyTimeout             = "Timeout"
)

// aliases maps lower-cased alternate spellings onto the lower-cased canonical
// key they stand for.
var aliases = map[string]string{
	"initial catalog": "catalog",
	"database":        "catalog",
	"uid":             "user id",
	"pwd":             "password",
	"datasource":      "data source",
	"server":          "data source",
}

func canonical(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if a, ok := aliases[k]; ok {
		return a
	}
	return k
}

type entry struct {
	key   string
	value string
}

// Properties is an ordered, case-insensitive set of connection string pairs.
// The zero value is empty and ready to use.
type Properties struct {
	entries []entry
}

// Parse reads a semicolon delimited list of key=value pairs. Values may be
// quoted with ' or " and a doubled quote inside a quoted value stands for one
// quote character.
func Parse(s string) (Properties, error) {
	var p Properties
	i, n := 0, len(s)
	for i < n {
		// skip separators
		for i < n && (s[i] == ';' || isSpace(s[i])) {
			i++
		}
		if i >= n {
			break
		}

		start := i
		for i < n && s[i] != '=' && s[i] != ';' {
			i++
		}
		if i >= n || s[i] != '=' {
			return Properties{}, util.NewConfigurationError(
				fmt.Sprintf("invalid connection string: %q has no value", strings.TrimSpace(s[start:i])), nil)
		}
		key := strings.TrimSpace(s[start:i])
		if key == "" {
			return Properties{}, util.NewConfigurationError("invalid connection string: empty key", nil)
		}
		i++ // '='

		for i < n && isSpace(s[i]) {
			i++
		}
		var value string
		if i < n && (s[i] == '\'' || s[i] == '"') {
			q := s[i]
			i++
			var b strings.Builder
			closed := false
			for i < n {
				if s[i] == q {
					if i+1 < n && s[i+1] == q {
						b.WriteByte(q)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				b.WriteByte(s[i])
				i++
			}
			if !closed {
				return Properties{}, util.NewConfigurationError(
					fmt.Sprintf("invalid connection string: unterminated quote in value of %q", key), nil)
			}
			for i < n && isSpace(s[i]) {
				i++
			}
			if i < n && s[i] != ';' {
				return Properties{}, util.NewConfigurationError(
					fmt.Sprintf("invalid connection string: unexpected text after quoted value of %q", key), nil)
			}
			value = b.String()
		} else {
			vs := i
			for i < n && s[i] != ';' {
				i++
			}
			value = strings.TrimSpace(s[vs:i])
		}
		p.Set(key, value)
	}
	return p, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p Properties) index(key string) int {
	c := canonical(key)
	for i, e := range p.entries {
		if canonical(e.key) == c {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key or any of its aliases.
func (p Properties) Get(key string) (string, bool) {
	if i := p.index(key); i >= 0 {
		return p.entries[i].value, true
	}
	return "", false
}

// Value returns the value under key, or "" when absent.
func (p Properties) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

func (p Properties) Has(key string) bool { return p.index(key) >= 0 }

// Set replaces the value in place when the key, or an alias of it, is already
// present and appends it otherwise.
func (p *Properties) Set(key, value string) {
	if i := p.index(key); i >= 0 {
		p.entries[i].value = value
		return
	}
	p.entries = append(p.entries, entry{key: strings.TrimSpace(key), value: value})
}

// Delete removes key and its aliases.
func (p *Properties) Delete(key string) {
	c := canonical(key)
	kept := p.entries[:0]
	for _, e := range p.entries {
		if canonical(e.key) != c {
			kept = append(kept, e)
		}
	}
	p.entries = kept
}

// Keys returns the keys in insertion order, spelled as they were written.
func (p Properties) Keys() []string {
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.key
	}
	return keys
}

func (p Properties) Len() int { return len(p.entries) }

// Clone returns a copy that shares nothing with p.
func (p Properties) Clone() Properties {
	return Properties{entries: append([]entry(nil), p.entries...)}
}

// String formats the pairs in insertion order, quoting values that would not
// survive a round trip through Parse.
func (p Properties) String() string {
	parts := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		parts = append(parts, e.key+"="+quote(e.value))
	}
	return strings.Join(parts, ";")
}

func quote(v string) string {
	needs := v != strings.TrimSpace(v) || strings.ContainsAny(v, ";'\"")
	if !needs {
		return v
	}
	if strings.Contains(v, `"`) && !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
