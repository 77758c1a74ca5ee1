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

package session

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
)

// DatabaseInfo is a database as listed by the server metadata.
type DatabaseInfo struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	StorageEngine      string    `json:"storageEngine,omitempty"`
	CompatibilityLevel int       `json:"compatibilityLevel,omitempty"`
	State              string    `json:"state,omitempty"`
	EstimatedSize      int64     `json:"estimatedSize"`
	LastProcessed      time.Time `json:"lastProcessed"`
	LastUpdate         time.Time `json:"lastUpdate"`
}

// IsTabular reports whether the database uses the tabular engine.
func (d DatabaseInfo) IsTabular() bool {
	switch d.StorageEngine {
	case "TabularMetadata", "InMemory":
		return true
	}
	return d.CompatibilityLevel >= 1100
}

// ServerHandle is the management connection to a server.
type ServerHandle struct {
	session *Session

	// mu makes SendXMLA exclusive.
	mu sync.Mutex

	state     sync.RWMutex
	version   string
	databases []DatabaseInfo
}

// ServerHandle opens a session and connects a management handle. Unless
// propertiesOnly is set the database list is loaded as well. On failure the
// session is closed and no handle is returned.
func (f *Factory) ServerHandle(ctx context.Context, desc connstr.Descriptor, propertiesOnly bool) (*ServerHandle, error) {
	s, err := f.Open(ctx, desc)
	if err != nil {
		return nil, err
	}
	h := &ServerHandle{session: s}
	if err := h.connect(ctx, propertiesOnly); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *ServerHandle) connect(ctx context.Context, propertiesOnly bool) error {
	rs, err := h.session.Discover(ctx, xmla.DiscoverProperties, xmla.PropertyList{{Name: "PropertyName", Value: "DBMSVersion"}})
	if err != nil {
		return err
	}
	rows, err := rs.Rows()
	if err != nil {
		return err
	}
	h.state.Lock()
	for _, row := range rows {
		if v := row.String("Value"); v != "" {
			h.version = v
		}
	}
	h.state.Unlock()
	if propertiesOnly {
		return nil
	}
	return h.Refresh(ctx)
}

// Refresh reloads the database list.
func (h *ServerHandle) Refresh(ctx context.Context) error {
	rs, err := h.session.Discover(ctx, xmla.DiscoverXMLMetadata, xmla.PropertyList{{Name: "ObjectExpansion", Value: "ExpandObject"}})
	if err != nil {
		return err
	}
	rows, err := rs.Rows()
	if err != nil {
		return err
	}
	var dbs []DatabaseInfo
	for _, row := range rows {
		parsed, err := ParseDatabases(row.String("METADATA"))
		if err != nil {
			return err
		}
		dbs = append(dbs, parsed...)
	}
	slices.SortFunc(dbs, func(a, b DatabaseInfo) int { return strings.Compare(a.Name, b.Name) })
	h.state.Lock()
	h.databases = dbs
	h.state.Unlock()
	return nil
}

// ParseDatabases reads the Database elements of a DISCOVER_XML_METADATA
// document.
func ParseDatabases(metadata string) ([]DatabaseInfo, error) {
	if strings.TrimSpace(metadata) == "" {
		return nil, nil
	}
	doc, err := xmlquery.Parse(strings.NewReader(metadata))
	if err != nil {
		return nil, util.NewExecutionError("unable to parse server metadata", err)
	}
	var dbs []DatabaseInfo
	for _, n := range xmlquery.Find(doc, "//*[local-name()='Databases']/*[local-name()='Database']") {
		d := DatabaseInfo{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			text := strings.TrimSpace(c.InnerText())
			switch c.Data {
			case "ID":
				d.ID = text
			case "Name":
				d.Name = text
			case "Description":
				d.Description = text
			case "StorageEngineUsed":
				d.StorageEngine = text
			case "CompatibilityLevel":
				d.CompatibilityLevel, _ = strconv.Atoi(text)
			case "State":
				d.State = text
			case "EstimatedSize":
				d.EstimatedSize, _ = strconv.ParseInt(text, 10, 64)
			case "LastProcessed":
				d.LastProcessed = metadataTime(text)
			case "LastUpdate":
				d.LastUpdate = metadataTime(text)
			}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		dbs = append(dbs, d)
	}
	return dbs, nil
}

func metadataTime(s string) time.Time {
	if t, ok := xmla.Convert(s, "dateTime").(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Session returns the session the handle runs on.
func (h *ServerHandle) Session() *Session { return h.session }

// Version returns the server version reported on connect.
func (h *ServerHandle) Version() string {
	h.state.RLock()
	defer h.state.RUnlock()
	return h.version
}

// Databases returns the databases loaded on connect or by the last Refresh.
func (h *ServerHandle) Databases() []DatabaseInfo {
	h.state.RLock()
	defer h.state.RUnlock()
	return slices.Clone(h.databases)
}

// Database looks a database up by name or id, ignoring case.
func (h *ServerHandle) Database(name string) (DatabaseInfo, bool) {
	h.state.RLock()
	defer h.state.RUnlock()
	for _, d := range h.databases {
		if strings.EqualFold(d.Name, name) || strings.EqualFold(d.ID, name) {
			return d, true
		}
	}
	return DatabaseInfo{}, false
}

// CancelSession cancels the commands of connection spid.
func (h *ServerHandle) CancelSession(ctx context.Context, spid int, cancelAssociated bool) error {
	if err := h.session.CancelSPID(ctx, spid, cancelAssociated); err != nil {
		return fmt.Errorf("unable to cancel spid %d: %w", spid, err)
	}
	return nil
}

// SendXMLA posts a raw request. Requests on one handle never overlap.
func (h *ServerHandle) SendXMLA(ctx context.Context, body string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := util.CheckContext(ctx, "send xmla"); err != nil {
		return "", err
	}
	resp, err := h.session.SendRaw(ctx, []byte(body))
	if err != nil {
		return "", err
	}
	if err := util.CheckContext(ctx, "send xmla"); err != nil {
		return "", err
	}
	return string(resp), nil
}

// Close closes the underlying session.
func (h *ServerHandle) Close(ctx context.Context) error {
	return h.session.Close(ctx)
}
