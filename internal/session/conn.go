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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	actionExecute  = `"urn:schemas-microsoft-com:xml-analysis:Execute"`
	actionDiscover = `"urn:schemas-microsoft-com:xml-analysis:Discover"`

	headerRequestID = "x-ms-client-request-id"
)

var discoverBody = regexp.MustCompile(`<([A-Za-z_][\w.-]*:)?Discover[\s>/]`)

// Session is one logical connection to a server. Commands on a session are
// sent one at a time; the rows of a command may still be read while the
// next one is sent.
type Session struct {
	factory  *Factory
	desc     connstr.Descriptor
	logger   log.Logger
	endpoint string
	client   *http.Client
	header   http.Header
	user     string
	password string

	// mu serializes commands.
	mu sync.Mutex

	// state guards the fields below, which change between commands.
	state         sync.Mutex
	id            string
	catalog       string
	effectiveUser string
	locale        int
	timeout       time.Duration
	closed        bool
}

// Descriptor returns the descriptor the session was opened with.
func (s *Session) Descriptor() connstr.Descriptor { return s.desc }

// Endpoint returns the XMLA URL requests are posted to.
func (s *Session) Endpoint() string { return s.endpoint }

// ID returns the server session id, or "" before the session has begun.
func (s *Session) ID() string {
	s.state.Lock()
	defer s.state.Unlock()
	return s.id
}

// Catalog returns the database commands currently run against.
func (s *Session) Catalog() string {
	s.state.Lock()
	defer s.state.Unlock()
	return s.catalog
}

// EffectiveUserName returns the user commands are impersonating, if any.
func (s *Session) EffectiveUserName() string {
	s.state.Lock()
	defer s.state.Unlock()
	return s.effectiveUser
}

// ChangeDatabase makes name the catalog of subsequent commands.
func (s *Session) ChangeDatabase(name string) error {
	s.state.Lock()
	defer s.state.Unlock()
	if s.closed {
		return util.NewStateError("session is closed", nil)
	}
	s.catalog = name
	return nil
}

// ChangeEffectiveUser impersonates name on subsequent commands. An empty
// name stops impersonation.
func (s *Session) ChangeEffectiveUser(name string) error {
	s.state.Lock()
	defer s.state.Unlock()
	if s.closed {
		return util.NewStateError("session is closed", nil)
	}
	s.effectiveUser = name
	return nil
}

// SetTimeout sets the server-side timeout of subsequent commands.
func (s *Session) SetTimeout(d time.Duration) {
	s.state.Lock()
	defer s.state.Unlock()
	s.timeout = d
}

func (s *Session) properties() xmla.PropertyList {
	s.state.Lock()
	defer s.state.Unlock()
	p := xmla.PropertyList{
		{Name: "Format", Value: "Tabular"},
		{Name: "Content", Value: "SchemaData"},
	}
	if s.catalog != "" {
		p = p.Set("Catalog", s.catalog)
	}
	if s.effectiveUser != "" {
		p = p.Set("EffectiveUserName", s.effectiveUser)
	}
	if s.locale != 0 {
		p = p.Set("LocaleIdentifier", strconv.Itoa(s.locale))
	}
	if s.timeout > 0 {
		p = p.Set("Timeout", strconv.Itoa(int(s.timeout/time.Second)))
	}
	return p
}

// prepare merges the session properties into cmd. Properties set on the
// command win.
func (s *Session) prepare(cmd xmla.Command) (xmla.Command, string) {
	merge := func(own xmla.PropertyList) xmla.PropertyList {
		p := s.properties()
		for _, prop := range own {
			p = p.Set(prop.Name, prop.Value)
		}
		return p
	}
	switch c := cmd.(type) {
	case xmla.Statement:
		c.Properties = merge(c.Properties)
		return c, actionExecute
	case xmla.Discover:
		c.Properties = merge(c.Properties)
		return c, actionDiscover
	case xmla.Cancel:
		return c, actionExecute
	case xmla.Raw:
		return c, rawAction(c)
	}
	return cmd, actionExecute
}

func rawAction(body []byte) string {
	if discoverBody.Match(body) {
		return actionDiscover
	}
	return actionExecute
}

// Execute sends cmd inside the session, beginning the session on first use.
// The returned rowset streams the response and must be closed. When ctx is
// cancelled before the rowset is closed, a Cancel for the session is sent to
// the server.
func (s *Session) Execute(ctx context.Context, cmd xmla.Command) (*xmla.Rowset, error) {
	if err := util.CheckContext(ctx, "execute"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Lock()
	closed, id := s.closed, s.id
	s.state.Unlock()
	if closed {
		return nil, util.NewStateError("session is closed", nil)
	}

	cmd, action := s.prepare(cmd)
	mode := xmla.UseSession
	if id == "" {
		mode = xmla.BeginSession
	}
	body, err := xmla.Envelope(cmd, mode, id)
	if err != nil {
		return nil, util.NewExecutionError("unable to build request", err)
	}

	stop := context.AfterFunc(ctx, func() {
		s.cancelOnServer(context.WithoutCancel(ctx))
	})
	resp, err := s.post(ctx, body, action)
	if err != nil {
		stop()
		return nil, err
	}
	rs, err := xmla.NewRowset(&responseBody{ReadCloser: resp.Body, onClose: func() { stop() }})
	if err != nil {
		return nil, contextError(ctx, "execute", err)
	}
	if mode == xmla.BeginSession && rs.SessionID != "" {
		s.state.Lock()
		s.id = rs.SessionID
		s.state.Unlock()
	}
	return rs, nil
}

// Begin starts the server session with an empty statement so that the id is
// known before the first real command. A command whose context is cancelled
// can then always be cancelled on the server. Begin is a no-op once the
// session has started.
func (s *Session) Begin(ctx context.Context) error {
	if err := util.CheckContext(ctx, "begin session"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Lock()
	closed, id := s.closed, s.id
	s.state.Unlock()
	if closed {
		return util.NewStateError("session is closed", nil)
	}
	if id != "" {
		return nil
	}

	cmd, action := s.prepare(xmla.Statement{})
	body, err := xmla.Envelope(cmd, xmla.BeginSession, "")
	if err != nil {
		return util.NewExecutionError("unable to build request", err)
	}
	resp, err := s.post(ctx, body, action)
	if err != nil {
		return err
	}
	rs, err := xmla.NewRowset(resp.Body)
	if err != nil {
		return contextError(ctx, "begin session", err)
	}
	_ = rs.Close()
	if rs.SessionID == "" {
		return util.NewExecutionError(fmt.Sprintf("%q did not start a session", s.endpoint), nil)
	}
	s.state.Lock()
	s.id = rs.SessionID
	s.state.Unlock()
	return nil
}

// Discover runs a schema rowset request.
func (s *Session) Discover(ctx context.Context, requestType string, restrictions xmla.PropertyList) (*xmla.Rowset, error) {
	return s.Execute(ctx, xmla.Discover{RequestType: requestType, Restrictions: restrictions})
}

// Query runs a statement with parameters.
func (s *Session) Query(ctx context.Context, text string, params ...xmla.Parameter) (*xmla.Rowset, error) {
	return s.Execute(ctx, xmla.Statement{Text: text, Parameters: params})
}

// Cancel asks the server to stop the command running in this session. It is
// a no-op before the session has begun.
func (s *Session) Cancel(ctx context.Context) error {
	id := s.ID()
	if id == "" {
		return nil
	}
	return s.sendCancel(ctx, xmla.Cancel{SessionID: id})
}

// CancelSPID cancels the commands of the connection spid. With
// cancelAssociated the other connections of its session stop too.
func (s *Session) CancelSPID(ctx context.Context, spid int, cancelAssociated bool) error {
	return s.sendCancel(ctx, xmla.Cancel{SPID: spid, CancelAssociated: cancelAssociated})
}

func (s *Session) sendCancel(ctx context.Context, c xmla.Cancel) error {
	if err := util.CheckContext(ctx, "cancel"); err != nil {
		return err
	}
	body, err := xmla.Envelope(c, xmla.NoSession, "")
	if err != nil {
		return util.NewExecutionError("unable to build cancel request", err)
	}
	resp, err := s.post(ctx, body, actionExecute)
	if err != nil {
		return err
	}
	rs, err := xmla.NewRowset(resp.Body)
	if err != nil {
		return contextError(ctx, "cancel", err)
	}
	_, err = rs.Rows()
	return err
}

func (s *Session) cancelOnServer(ctx context.Context) {
	id := s.ID()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.factory.cancelTimeout)
	defer cancel()
	if err := s.sendCancel(ctx, xmla.Cancel{SessionID: id}); err != nil {
		s.logger.WarnContext(ctx, fmt.Sprintf("unable to cancel session %s: %s", id, err))
		return
	}
	s.logger.DebugContext(ctx, fmt.Sprintf("cancelled session %s", id))
}

// SendRaw posts a complete envelope outside of the session and returns the
// response body. A SOAP fault in a successful response is returned as is.
func (s *Session) SendRaw(ctx context.Context, body []byte) ([]byte, error) {
	if err := util.CheckContext(ctx, "send xmla"); err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, body, rawAction(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, contextError(ctx, "send xmla", util.NewExecutionError("unable to read response", err))
	}
	return b, nil
}

// Close ends the server session. It is safe to call more than once and runs
// even when ctx is already cancelled.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Lock()
	if s.closed {
		s.state.Unlock()
		return nil
	}
	s.closed = true
	id := s.id
	s.state.Unlock()
	if id == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.factory.cancelTimeout)
	defer cancel()
	body, err := xmla.Envelope(xmla.Statement{}, xmla.EndSession, id)
	if err != nil {
		return util.NewExecutionError("unable to build request", err)
	}
	resp, err := s.post(ctx, body, actionExecute)
	if err != nil {
		s.logger.WarnContext(ctx, fmt.Sprintf("unable to end session %s: %s", id, err))
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (s *Session) post(ctx context.Context, body []byte, action string) (*http.Response, error) {
	ctx, span := s.factory.instr.Tracer.Start(ctx, "tabular/session/post")
	defer span.End()
	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("server.endpoint", s.endpoint),
		attribute.String("request.id", requestID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, util.NewConfigurationError(fmt.Sprintf("invalid xmla endpoint %q", s.endpoint), err)
	}
	for k, v := range s.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("SOAPAction", action)
	req.Header.Set(headerRequestID, requestID)
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var tErr util.TabularError
		if errors.As(err, &tErr) {
			return nil, tErr
		}
		return nil, contextError(ctx, "xmla request", util.NewExecutionError(fmt.Sprintf("unable to reach %q", s.endpoint), err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	span.SetStatus(codes.Error, resp.Status)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, util.NewAuthenticationError(fmt.Sprintf("server rejected the credentials with status %d", resp.StatusCode), nil)
	}
	return nil, xmla.ErrorFromBody(resp.StatusCode, b)
}

// contextError reports err as a cancellation whenever ctx is done.
func contextError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		var cErr *util.CancelledError
		if errors.As(err, &cErr) {
			return err
		}
		return util.NewCancelledError(op+" cancelled", err)
	}
	return util.WrapContextError(ctx, op, err)
}

// responseBody runs onClose once when the body is closed.
type responseBody struct {
	io.ReadCloser
	once    sync.Once
	onClose func()
}

func (b *responseBody) Close() error {
	b.once.Do(b.onClose)
	return b.ReadCloser.Close()
}
