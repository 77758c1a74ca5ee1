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
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EncodeName escapes the characters of name that are not valid in an XML
// element name as _xHHHH_, or _xHHHHHHHH_ outside the basic plane. An
// underscore that would otherwise start an escape sequence is escaped too.
func EncodeName(name string) string {
	if name == "" {
		return name
	}
	var b strings.Builder
	first := true
	for i := 0; i < len(name); {
		r, size := utf8.DecodeRuneInString(name[i:])
		switch {
		case r == '_' && looksEscaped(name[i:]):
			b.WriteString("_x005F_")
		case first && isNameStart(r), !first && isNameChar(r):
			b.WriteRune(r)
		default:
			b.WriteString(escapeRune(r))
		}
		first = false
		i += size
	}
	return b.String()
}

// DecodeName reverses EncodeName. Sequences that are not well formed are
// left as they are.
func DecodeName(name string) string {
	if !strings.Contains(name, "_x") {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); {
		if name[i] == '_' {
			if r, n, ok := unescape(name[i:]); ok {
				b.WriteRune(r)
				i += n
				continue
			}
		}
		b.WriteByte(name[i])
		i++
	}
	return b.String()
}

func escapeRune(r rune) string {
	if r > 0xFFFF {
		return fmt.Sprintf("_x%08X_", r)
	}
	return fmt.Sprintf("_x%04X_", r)
}

func looksEscaped(s string) bool {
	_, _, ok := unescape(s)
	return ok
}

// unescape decodes a leading _xHHHH_ or _xHHHHHHHH_ sequence of s.
func unescape(s string) (rune, int, bool) {
	if len(s) < 7 || s[0] != '_' || s[1] != 'x' {
		return 0, 0, false
	}
	for _, width := range []int{4, 8} {
		end := 2 + width
		if len(s) <= end || s[end] != '_' {
			continue
		}
		v, err := strconv.ParseUint(s[2:end], 16, 32)
		if err != nil {
			continue
		}
		return rune(v), end + 1, true
	}
	return 0, 0, false
}

func isNameStart(r rune) bool {
	return r == '_' || r == ':' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return isNameStart(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == 0xB7 ||
		unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}
