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

// Package xmla builds XML for Analysis requests and reads their responses.
// Everything here is a pure transform over bytes; sending requests is left to
// the session package.
package xmla

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

const (
	NamespaceSOAP      = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceXMLA      = "urn:schemas-microsoft-com:xml-analysis"
	NamespaceRowset    = "urn:schemas-microsoft-com:xml-analysis:rowset"
	NamespaceEmpty     = "urn:schemas-microsoft-com:xml-analysis:empty"
	NamespaceException = "urn:schemas-microsoft-com:xml-analysis:exception"
	NamespaceEngine    = "http://schemas.microsoft.com/analysisservices/2003/engine"
	NamespaceXSD       = "http://www.w3.org/2001/XMLSchema"
	NamespaceXSI       = "http://www.w3.org/2001/XMLSchema-instance"
	NamespaceSQL       = "urn:schemas-microsoft-com:xml-sql"
)

// Discover request types used by this module.
const (
	DiscoverXMLMetadata         = "DISCOVER_XML_METADATA"
	DiscoverLocks               = "DISCOVER_LOCKS"
	DiscoverSessions            = "DISCOVER_SESSIONS"
	DiscoverProperties          = "DISCOVER_PROPERTIES"
	DiscoverStorageTableColumns = "DISCOVER_STORAGE_TABLE_COLUMNS"
	DiscoverStorageSegments     = "DISCOVER_STORAGE_TABLE_COLUMN_SEGMENTS"
	DBSchemaCatalogs            = "DBSCHEMA_CATALOGS"
	MDSchemaDimensions          = "MDSCHEMA_DIMENSIONS"
	TMSchemaPartitions          = "TMSCHEMA_PARTITIONS"
	TMSchemaDataSources         = "TMSCHEMA_DATA_SOURCES"
	TMSchemaRoles               = "TMSCHEMA_ROLES"
	TMSchemaRoleMemberships     = "TMSCHEMA_ROLE_MEMBERSHIPS"
)

// Property is a name/value pair of a PropertyList or RestrictionList.
type Property struct {
	Name  string
	Value string
}

// PropertyList marshals as one child element per property, in order.
type PropertyList []Property

func (p PropertyList) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, prop := range p {
		if err := e.EncodeElement(prop.Value, xml.StartElement{Name: xml.Name{Local: prop.Name}}); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Get returns the value of the first property called name.
func (p PropertyList) Get(name string) (string, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return "", false
}

// Set replaces the value of name or appends it.
func (p PropertyList) Set(name, value string) PropertyList {
	for i := range p {
		if p[i].Name == name {
			p[i].Value = value
			return p
		}
	}
	return append(p, Property{Name: name, Value: value})
}

// Parameter binds a value to a named query parameter. A nil Value is sent as
// xsi:nil.
type Parameter struct {
	Name  string
	Value any
}

// SessionMode selects which session header a request carries.
type SessionMode int

const (
	// NoSession sends no session header.
	NoSession SessionMode = iota
	// BeginSession asks the server to start a session.
	BeginSession
	// UseSession runs the request in an existing session.
	UseSession
	// EndSession runs the request and closes the session.
	EndSession
)

// Command is a request in the Body of an envelope.
type Command interface {
	body() any
}

// Statement runs a DAX, MDX, DMV or TMSL text.
type Statement struct {
	Text       string
	Properties PropertyList
	Parameters []Parameter
}

// Cancel stops the commands of a connection or session.
type Cancel struct {
	SPID             int
	SessionID        string
	CancelAssociated bool
	Properties       PropertyList
}

// Discover reads a schema rowset.
type Discover struct {
	RequestType  string
	Restrictions PropertyList
	Properties   PropertyList
}

// Raw is a complete envelope supplied by the caller and sent as is.
type Raw []byte

type envelope struct {
	XMLName xml.Name       `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	XSI     string         `xml:"xmlns:xsi,attr"`
	XSD     string         `xml:"xmlns:xsd,attr"`
	Header  envelopeHeader `xml:"Header"`
	Body    envelopeBody   `xml:"Body"`
}

type envelopeHeader struct {
	Session *sessionHeader
}

type sessionHeader struct {
	XMLName        xml.Name
	SessionID      string `xml:"SessionId,attr,omitempty"`
	MustUnderstand string `xml:"mustUnderstand,attr"`
}

type envelopeBody struct {
	Content any
}

type executeBody struct {
	XMLName    xml.Name        `xml:"urn:schemas-microsoft-com:xml-analysis Execute"`
	Command    executeCommand  `xml:"Command"`
	Properties propertiesBlock `xml:"Properties"`
	Parameters *parameterList  `xml:"Parameters,omitempty"`
}

type executeCommand struct {
	Statement *string        `xml:"Statement,omitempty"`
	Cancel    *cancelCommand `xml:"http://schemas.microsoft.com/analysisservices/2003/engine Cancel,omitempty"`
}

type cancelCommand struct {
	SPID             int    `xml:"SPID,omitempty"`
	SessionID        string `xml:"SessionID,omitempty"`
	CancelAssociated bool   `xml:"CancelAssociated,omitempty"`
}

type propertiesBlock struct {
	PropertyList PropertyList `xml:"PropertyList"`
}

type parameterList struct {
	Parameters []parameter `xml:"Parameter"`
}

type parameter struct {
	Name  string         `xml:"Name"`
	Value parameterValue `xml:"Value"`
}

type parameterValue struct {
	Type string `xml:"xsi:type,attr,omitempty"`
	Nil  string `xml:"xsi:nil,attr,omitempty"`
	Text string `xml:",chardata"`
}

type discoverBody struct {
	XMLName      xml.Name          `xml:"urn:schemas-microsoft-com:xml-analysis Discover"`
	RequestType  string            `xml:"RequestType"`
	Restrictions restrictionsBlock `xml:"Restrictions"`
	Properties   propertiesBlock   `xml:"Properties"`
}

type restrictionsBlock struct {
	RestrictionList PropertyList `xml:"RestrictionList"`
}

func (s Statement) body() any {
	text := s.Text
	b := executeBody{
		Command:    executeCommand{Statement: &text},
		Properties: propertiesBlock{PropertyList: s.Properties},
	}
	if len(s.Parameters) > 0 {
		b.Parameters = &parameterList{}
		for _, p := range s.Parameters {
			b.Parameters.Parameters = append(b.Parameters.Parameters, parameter{Name: p.Name, Value: encodeValue(p.Value)})
		}
	}
	return b
}

func (c Cancel) body() any {
	return executeBody{
		Command: executeCommand{Cancel: &cancelCommand{
			SPID:             c.SPID,
			SessionID:        c.SessionID,
			CancelAssociated: c.CancelAssociated,
		}},
		Properties: propertiesBlock{PropertyList: c.Properties},
	}
}

func (d Discover) body() any {
	return discoverBody{
		RequestType:  d.RequestType,
		Restrictions: restrictionsBlock{RestrictionList: d.Restrictions},
		Properties:   propertiesBlock{PropertyList: d.Properties},
	}
}

func (r Raw) body() any { return nil }

// Envelope wraps cmd in a SOAP envelope with the session header selected by
// mode. A Raw command is returned unchanged.
func Envelope(cmd Command, mode SessionMode, sessionID string) ([]byte, error) {
	if raw, ok := cmd.(Raw); ok {
		return []byte(raw), nil
	}
	env := envelope{XSI: NamespaceXSI, XSD: NamespaceXSD, Body: envelopeBody{Content: cmd.body()}}
	switch mode {
	case BeginSession:
		env.Header.Session = &sessionHeader{XMLName: xml.Name{Space: NamespaceXMLA, Local: "BeginSession"}, MustUnderstand: "1"}
	case UseSession, EndSession:
		if sessionID == "" {
			return nil, fmt.Errorf("a session id is required")
		}
		local := "Session"
		if mode == EndSession {
			local = "EndSession"
		}
		env.Header.Session = &sessionHeader{XMLName: xml.Name{Space: NamespaceXMLA, Local: local}, SessionID: sessionID, MustUnderstand: "1"}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("unable to encode request: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeValue(v any) parameterValue {
	switch t := v.(type) {
	case nil:
		return parameterValue{Nil: "true"}
	case string:
		return parameterValue{Type: "xsd:string", Text: t}
	case bool:
		return parameterValue{Type: "xsd:boolean", Text: strconv.FormatBool(t)}
	case int:
		return parameterValue{Type: "xsd:long", Text: strconv.Itoa(t)}
	case int32:
		return parameterValue{Type: "xsd:int", Text: strconv.FormatInt(int64(t), 10)}
	case int64:
		return parameterValue{Type: "xsd:long", Text: strconv.FormatInt(t, 10)}
	case float32:
		return parameterValue{Type: "xsd:double", Text: strconv.FormatFloat(float64(t), 'g', -1, 32)}
	case float64:
		return parameterValue{Type: "xsd:double", Text: strconv.FormatFloat(t, 'g', -1, 64)}
	case time.Time:
		return parameterValue{Type: "xsd:dateTime", Text: t.UTC().Format("2006-01-02T15:04:05.9999999")}
	case fmt.Stringer:
		return parameterValue{Type: "xsd:string", Text: t.String()}
	default:
		return parameterValue{Type: "xsd:string", Text: fmt.Sprint(t)}
	}
}
