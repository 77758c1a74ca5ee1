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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/util"
)

// Message is an error or warning reported inside a response.
type Message struct {
	Code        string
	Description string
	Source      string
	Warning     bool
}

// Rowset reads an XMLA response as a stream. Columns, SessionID and any
// warnings seen before the first row are available as soon as NewRowset
// returns; rows are decoded one at a time by Next.
type Rowset struct {
	SessionID string
	Columns   []Column
	Warnings  []Message

	dec     *xml.Decoder
	body    io.Closer
	index   map[string]int
	pending *xml.StartElement
	err     error
	done    bool
	count   int
}

// NewRowset reads r up to the first row. A SOAP fault or an error message
// found on the way is returned as an *util.ExecutionError. When r is an
// io.Closer, Close closes it.
func NewRowset(r io.Reader) (*Rowset, error) {
	rs := &Rowset{dec: xml.NewDecoder(r), index: map[string]int{}}
	if c, ok := r.(io.Closer); ok {
		rs.body = c
	}
	start, err := rs.advance()
	if err != nil {
		rs.Close()
		return nil, err
	}
	rs.pending = start
	return rs, nil
}

// ReadAll parses a complete response held in memory.
func ReadAll(b []byte) (*Rowset, error) {
	return NewRowset(bytes.NewReader(b))
}

// advance reads until the next row start element, handling headers, schema
// and messages on the way. It returns nil at the end of the response.
func (rs *Rowset) advance() (*xml.StartElement, error) {
	for {
		tok, err := rs.dec.Token()
		if errors.Is(err, io.EOF) {
			rs.done = true
			return nil, nil
		}
		if err != nil {
			return nil, util.NewExecutionError("unable to read response", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Session", "BeginSession":
			if id := attr(start, "SessionId"); id != "" {
				rs.SessionID = id
			}
		case "Fault":
			var f soapFault
			if err := rs.dec.DecodeElement(&f, &start); err != nil {
				return nil, util.NewExecutionError("unable to read fault", err)
			}
			return nil, f.err()
		case "schema":
			var s xsdSchema
			if err := rs.dec.DecodeElement(&s, &start); err != nil {
				return nil, util.NewExecutionError("unable to read rowset schema", err)
			}
			rs.setSchema(s)
		case "Messages":
			var m messages
			if err := rs.dec.DecodeElement(&m, &start); err != nil {
				return nil, util.NewExecutionError("unable to read messages", err)
			}
			if err := rs.addMessages(m); err != nil {
				return nil, err
			}
		case "row":
			return &start, nil
		}
	}
}

func (rs *Rowset) setSchema(s xsdSchema) {
	for _, ct := range s.ComplexTypes {
		if ct.Name != "row" {
			continue
		}
		for _, el := range ct.Sequence.Elements {
			name := el.field()
			if name == "" {
				name = DecodeName(el.Name)
			}
			rs.index[el.Name] = len(rs.Columns)
			rs.Columns = append(rs.Columns, Column{Name: name, Element: el.Name, Type: localType(el.Type)})
		}
	}
}

func (rs *Rowset) addMessages(m messages) error {
	var errs []Message
	for _, item := range m.Items {
		msg, ok := item.message()
		if !ok {
			continue
		}
		if msg.Warning {
			rs.Warnings = append(rs.Warnings, msg)
			continue
		}
		errs = append(errs, msg)
	}
	return messagesError(errs)
}

// Next returns the next row. It returns false at the end of the rowset or on
// error; check Err afterwards.
func (rs *Rowset) Next() (Row, bool) {
	if rs.err != nil || rs.done && rs.pending == nil {
		return Row{}, false
	}
	start := rs.pending
	rs.pending = nil
	if start == nil {
		var err error
		start, err = rs.advance()
		if err != nil {
			rs.err = err
			return Row{}, false
		}
		if start == nil {
			return Row{}, false
		}
	}
	row, err := rs.readRow(*start)
	if err != nil {
		rs.err = err
		return Row{}, false
	}
	rs.count++
	return row, true
}

// Err returns the error that stopped Next, if any.
func (rs *Rowset) Err() error { return rs.err }

// Count returns the number of rows read so far.
func (rs *Rowset) Count() int { return rs.count }

// Close releases the underlying reader. It is safe to call more than once.
func (rs *Rowset) Close() error {
	rs.done = true
	rs.pending = nil
	if rs.body == nil {
		return nil
	}
	b := rs.body
	rs.body = nil
	return b.Close()
}

// All iterates over the remaining rows. A read error is yielded once as the
// last element.
func (rs *Rowset) All() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for {
			row, ok := rs.Next()
			if !ok {
				break
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rs.Err(); err != nil {
			yield(Row{}, err)
		}
	}
}

// Rows reads every remaining row into memory and closes the rowset.
func (rs *Rowset) Rows() ([]Row, error) {
	defer rs.Close()
	var rows []Row
	for row, err := range rs.All() {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (rs *Rowset) readRow(start xml.StartElement) (Row, error) {
	values := make([]any, len(rs.Columns))
	for {
		tok, err := rs.dec.Token()
		if err != nil {
			return Row{}, util.NewExecutionError("unable to read row", err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return NewRow(rs.Columns, values), nil
			}
		case xml.StartElement:
			i, ok := rs.index[t.Name.Local]
			if !ok {
				// a field the schema did not declare
				i = len(rs.Columns)
				rs.index[t.Name.Local] = i
				rs.Columns = append(rs.Columns, Column{Name: DecodeName(t.Name.Local), Element: t.Name.Local})
				values = append(values, nil)
			}
			v, err := rs.readValue(t, rs.Columns[i].Type)
			if err != nil {
				return Row{}, err
			}
			values[i] = v
		}
	}
}

func (rs *Rowset) readValue(start xml.StartElement, typ string) (any, error) {
	isNil := false
	for _, a := range start.Attr {
		if a.Name.Local == "nil" && (a.Name.Space == NamespaceXSI || a.Name.Space == "xsi") && a.Value == "true" {
			isNil = true
		}
	}
	if isNil {
		return nil, rs.dec.Skip()
	}

	var text strings.Builder
	var raw bytes.Buffer
	var enc *xml.Encoder
	depth := 0
	for {
		tok, err := rs.dec.Token()
		if err != nil {
			return nil, util.NewExecutionError("unable to read value", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if enc == nil {
				enc = xml.NewEncoder(&raw)
				if text.Len() > 0 {
					if err := enc.EncodeToken(xml.CharData(text.String())); err != nil {
						return nil, err
					}
				}
			}
			depth++
			if err := enc.EncodeToken(t.Copy()); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if depth == 0 {
				if enc != nil {
					if err := enc.Flush(); err != nil {
						return nil, err
					}
					return raw.String(), nil
				}
				return Convert(text.String(), typ), nil
			}
			depth--
			if err := enc.EncodeToken(t); err != nil {
				return nil, err
			}
		case xml.CharData:
			if enc != nil {
				if err := enc.EncodeToken(t.Copy()); err != nil {
					return nil, err
				}
			} else {
				text.Write(t)
			}
		}
	}
}

func localType(t string) string {
	if i := strings.LastIndexByte(t, ':'); i >= 0 {
		return t[i+1:]
	}
	return t
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Convert turns the text of a field into a Go value by XSD type. Text that
// does not parse is returned as is.
func Convert(s, typ string) any {
	switch typ {
	case "boolean":
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	case "byte", "short", "int", "long", "integer", "unsignedByte", "unsignedShort", "unsignedInt":
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	case "unsignedLong":
		if n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	case "double", "float", "decimal":
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	case "dateTime", "date":
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
				return t.UTC()
			}
		}
	}
	return s
}

func attr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type xsdSchema struct {
	ComplexTypes []xsdComplexType `xml:"complexType"`
}

type xsdComplexType struct {
	Name     string `xml:"name,attr"`
	Sequence struct {
		Elements []xsdElement `xml:"element"`
	} `xml:"sequence"`
}

type xsdElement struct {
	Name  string     `xml:"name,attr"`
	Type  string     `xml:"type,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
}

func (e xsdElement) field() string {
	for _, a := range e.Attrs {
		if a.Name.Local == "field" {
			return a.Value
		}
	}
	return ""
}

type messageItem struct {
	XMLName     xml.Name
	ErrorCode   string `xml:"ErrorCode,attr"`
	WarningCode string `xml:"WarningCode,attr"`
	Description string `xml:"Description,attr"`
	Source      string `xml:"Source,attr"`
}

func (m messageItem) message() (Message, bool) {
	switch m.XMLName.Local {
	case "Warning":
		return Message{Code: m.WarningCode, Description: m.Description, Source: m.Source, Warning: true}, true
	case "Error":
		return Message{Code: m.ErrorCode, Description: m.Description, Source: m.Source}, true
	default:
		return Message{}, false
	}
}

type messages struct {
	Items []messageItem `xml:",any"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		Messages messages      `xml:"Messages"`
		Items    []messageItem `xml:",any"`
	} `xml:"detail"`
}

func (f soapFault) err() error {
	var errs []Message
	for _, item := range append(f.Detail.Messages.Items, f.Detail.Items...) {
		if msg, ok := item.message(); ok && !msg.Warning {
			errs = append(errs, msg)
		}
	}
	if err := messagesError(errs); err != nil {
		return err
	}
	e := util.NewExecutionError("server returned a fault", nil)
	e.Code = f.Code
	e.ServerMessage = f.String
	return e
}

func messagesError(errs []Message) error {
	if len(errs) == 0 {
		return nil
	}
	descs := make([]string, 0, len(errs))
	for _, m := range errs {
		descs = append(descs, m.Description)
	}
	e := util.NewExecutionError("server returned an error", nil)
	e.Code = errs[0].Code
	e.ServerMessage = strings.Join(descs, " ")
	return e
}

// ErrorFromBody builds an ExecutionError from a non-success HTTP response,
// keeping any fault text the server sent.
func ErrorFromBody(status int, body []byte) error {
	if _, err := ReadAll(body); err != nil {
		var execErr *util.ExecutionError
		if errors.As(err, &execErr) && execErr.ServerMessage != "" {
			return err
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	e := util.NewExecutionError(fmt.Sprintf("server responded with status %d", status), nil)
	e.ServerMessage = text
	return e
}
