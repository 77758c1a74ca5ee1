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
	"strings"

	"github.com/antchfx/xmlquery"
)

const drillthroughMarker = "DRILLTHROUGH"

// ApplyEffectiveUser appends an EffectiveUserName element, in the namespace of
// the list, to the first PropertyList of request. A request without a
// PropertyList is returned unchanged.
func ApplyEffectiveUser(request, userName string) (string, error) {
	if !strings.Contains(request, "PropertyList") {
		return request, nil
	}
	doc, err := xmlquery.Parse(strings.NewReader(request))
	if err != nil {
		return "", fmt.Errorf("unable to parse request: %w", err)
	}
	list := findElement(doc, func(n *xmlquery.Node) bool { return n.Data == "PropertyList" })
	if list == nil {
		return request, nil
	}
	user := &xmlquery.Node{
		Type:         xmlquery.ElementNode,
		Data:         "EffectiveUserName",
		Prefix:       list.Prefix,
		NamespaceURI: list.NamespaceURI,
	}
	xmlquery.AddChild(user, &xmlquery.Node{Type: xmlquery.TextNode, Data: userName})
	xmlquery.AddChild(list, user)
	return doc.OutputXML(true), nil
}

// IsDrillthroughRequest reports whether request runs a DRILLTHROUGH statement.
func IsDrillthroughRequest(request string) bool {
	return strings.Contains(request, drillthroughMarker)
}

// RewriteDrillthroughRequest asks for schema and data together so the
// response can be realigned against its declared columns.
func RewriteDrillthroughRequest(request string) string {
	if !IsDrillthroughRequest(request) {
		return request
	}
	return strings.ReplaceAll(request, "<Content>Data</Content>", "<Content>SchemaData</Content>")
}

// RealignDrillthroughResponse rewrites every row so that it holds one element
// per declared column, in declaration order, adding empty elements for the
// columns a row omits. Responses without rows or declared columns, or whose
// widest row already matches the declaration, are returned unchanged.
func RealignDrillthroughResponse(response string) (string, error) {
	doc, err := xmlquery.Parse(strings.NewReader(response))
	if err != nil {
		return "", fmt.Errorf("unable to parse response: %w", err)
	}

	var headers []string
	var rows []*xmlquery.Node
	walk(doc, func(n *xmlquery.Node) {
		switch {
		case n.Data == "element" && (n.Prefix == "xsd" || n.NamespaceURI == NamespaceXSD):
			if field, ok := fieldAttr(n); ok {
				headers = append(headers, field)
			}
		case n.Data == "row":
			rows = append(rows, n)
		}
	})

	widest := 0
	for _, row := range rows {
		widest = max(widest, len(childElements(row)))
	}
	if len(rows) == 0 || len(headers) == 0 || widest == len(headers) {
		return response, nil
	}

	for _, row := range rows {
		columns := childElements(row)
		for c := row.FirstChild; c != nil; {
			next := c.NextSibling
			xmlquery.RemoveFromTree(c)
			c = next
		}
		for _, header := range headers {
			var col *xmlquery.Node
			for _, c := range columns {
				if DecodeName(c.Data) == header {
					col = c
					break
				}
			}
			if col == nil {
				col = &xmlquery.Node{
					Type:         xmlquery.ElementNode,
					Data:         EncodeName(header),
					NamespaceURI: row.NamespaceURI,
				}
			}
			xmlquery.AddChild(row, col)
		}
	}
	return doc.OutputXML(true), nil
}

func walk(n *xmlquery.Node, visit func(*xmlquery.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			visit(c)
		}
		walk(c, visit)
	}
}

func findElement(n *xmlquery.Node, match func(*xmlquery.Node) bool) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && match(c) {
			return c
		}
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func childElements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func fieldAttr(n *xmlquery.Node) (string, bool) {
	for _, a := range n.Attr {
		if a.Name.Local == "field" && (a.Name.Space == "sql" || a.NamespaceURI == NamespaceSQL) {
			return a.Value, true
		}
	}
	return "", false
}
