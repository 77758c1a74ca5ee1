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

package testutils

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
)

// RowsetResponse renders a complete XMLA execute response with one column
// per name. Column types follow the Go type of the first non-nil value in
// each column. A non-empty sessionID adds a Session header.
func RowsetResponse(sessionID string, columns []string, rows ...[]any) string {
	types := make([]string, len(columns))
	for i := range columns {
		types[i] = "xsd:string"
		for _, r := range rows {
			if i < len(r) && r[i] != nil {
				types[i] = xsdType(r[i])
				break
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(`<root xmlns="urn:schemas-microsoft-com:xml-analysis:rowset" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:sql="urn:schemas-microsoft-com:xml-sql">`)
	sb.WriteString(`<xsd:schema targetNamespace="urn:schemas-microsoft-com:xml-analysis:rowset" elementFormDefault="qualified"><xsd:complexType name="row"><xsd:sequence>`)
	for i, c := range columns {
		fmt.Fprintf(&sb, `<xsd:element name="%s" sql:field="%s" type="%s" minOccurs="0"/>`, xmla.EncodeName(c), escape(c), types[i])
	}
	sb.WriteString(`</xsd:sequence></xsd:complexType></xsd:schema>`)
	for _, r := range rows {
		sb.WriteString("<row>")
		for i, v := range r {
			if i >= len(columns) {
				break
			}
			name := xmla.EncodeName(columns[i])
			if v == nil {
				fmt.Fprintf(&sb, `<%s xsi:nil="true"/>`, name)
				continue
			}
			fmt.Fprintf(&sb, "<%s>%s</%s>", name, escape(formatValue(v)), name)
		}
		sb.WriteString("</row>")
	}
	sb.WriteString("</root>")
	return wrap(sessionID, sb.String())
}

// EmptyResponse renders a successful execute response without a rowset.
func EmptyResponse(sessionID string) string {
	return wrap(sessionID, `<root xmlns="urn:schemas-microsoft-com:xml-analysis:empty"/>`)
}

// FaultResponse renders a SOAP fault carrying one error.
func FaultResponse(code, description string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultcode>XMLAnalysisError.%[1]s</faultcode><faultstring>%[2]s</faultstring><detail><Error ErrorCode="%[1]s" Description="%[2]s" Source="Microsoft SQL Server Analysis Services"/></detail></soap:Fault></soap:Body></soap:Envelope>`, code, escape(description))
}

func wrap(sessionID, root string) string {
	header := ""
	if sessionID != "" {
		header = fmt.Sprintf(`<soap:Header><Session xmlns="urn:schemas-microsoft-com:xml-analysis" SessionId="%s"/></soap:Header>`, sessionID)
	}
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` + header +
		`<soap:Body><ExecuteResponse xmlns="urn:schemas-microsoft-com:xml-analysis"><return>` + root +
		`</return></ExecuteResponse></soap:Body></soap:Envelope>`
}

func xsdType(v any) string {
	switch v.(type) {
	case bool:
		return "xsd:boolean"
	case int, int32, int64:
		return "xsd:long"
	case float32, float64:
		return "xsd:double"
	case time.Time:
		return "xsd:dateTime"
	}
	return "xsd:string"
}

func formatValue(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format("2006-01-02T15:04:05")
	}
	return fmt.Sprint(v)
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// XMLARequest is a request received by an XMLAServer.
type XMLARequest struct {
	Header http.Header
	Body   string
	doc    *xmlquery.Node
}

func (r XMLARequest) find(local string) *xmlquery.Node {
	if r.doc == nil {
		return nil
	}
	return xmlquery.FindOne(r.doc, "//*[local-name()='"+local+"']")
}

// Statement returns the text of an Execute statement.
func (r XMLARequest) Statement() string {
	if n := r.find("Statement"); n != nil {
		return n.InnerText()
	}
	return ""
}

// RequestType returns the request type of a Discover.
func (r XMLARequest) RequestType() string {
	if n := r.find("RequestType"); n != nil {
		return n.InnerText()
	}
	return ""
}

// Property returns a PropertyList entry.
func (r XMLARequest) Property(name string) string {
	if n := r.find("PropertyList"); n != nil {
		if p := xmlquery.FindOne(n, "*[local-name()='"+name+"']"); p != nil {
			return p.InnerText()
		}
	}
	return ""
}

// Restriction returns a RestrictionList entry.
func (r XMLARequest) Restriction(name string) string {
	if n := r.find("RestrictionList"); n != nil {
		if p := xmlquery.FindOne(n, "*[local-name()='"+name+"']"); p != nil {
			return p.InnerText()
		}
	}
	return ""
}

// Has reports whether an element with the local name exists.
func (r XMLARequest) Has(local string) bool { return r.find(local) != nil }

// SessionID returns the id of a Session or EndSession header.
func (r XMLARequest) SessionID() string {
	for _, local := range []string{"Session", "EndSession"} {
		if n := r.find(local); n != nil {
			for _, a := range n.Attr {
				if a.Name.Local == "SessionId" {
					return a.Value
				}
			}
		}
	}
	return ""
}

// XMLAHandler answers one request with a status and a body.
type XMLAHandler func(req XMLARequest) (int, string)

// IsBegin reports whether the request only starts a session: an empty
// statement carrying a BeginSession header.
func (r XMLARequest) IsBegin() bool {
	return r.Has("BeginSession") && r.Has("Statement") && strings.TrimSpace(r.Statement()) == ""
}

// XMLAServer is an httptest server speaking XMLA that records every request.
// Requests that only begin a session are answered with a new session id
// without reaching the handler, unless AnswerBegins(false) was called.
type XMLAServer struct {
	*httptest.Server

	mu           sync.Mutex
	requests     []XMLARequest
	handler      XMLAHandler
	manualBegins bool
	sessions     int
}

// NewXMLAServer starts a server answering with h. Callers must Close it.
func NewXMLAServer(h XMLAHandler) *XMLAServer {
	s := &XMLAServer{handler: h}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AnswerBegins selects whether session handshakes are answered by the server
// itself or passed to the handler.
func (s *XMLAServer) AnswerBegins(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualBegins = !on
}

// SessionsBegun returns the number of handshakes answered by the server.
func (s *XMLAServer) SessionsBegun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *XMLAServer) serve(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := XMLARequest{Header: r.Header.Clone(), Body: string(b)}
	req.doc, _ = xmlquery.Parse(strings.NewReader(req.Body))
	s.mu.Lock()
	s.requests = append(s.requests, req)
	h := s.handler
	if !s.manualBegins && req.IsBegin() {
		s.sessions++
		id := fmt.Sprintf("SESSION-%d", s.sessions)
		h = func(XMLARequest) (int, string) { return http.StatusOK, EmptyResponse(id) }
	}
	s.mu.Unlock()

	status, body := h(req)
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// SetHandler replaces the handler of subsequent requests.
func (s *XMLAServer) SetHandler(h XMLAHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Requests returns the requests received so far.
func (s *XMLAServer) Requests() []XMLARequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]XMLARequest(nil), s.requests...)
}
