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

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// requestIDHeader echoes the id every API response is logged under.
const requestIDHeader = "X-Request-Id"

// apiRouter creates a router that represents the routes under /api
func apiRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(middleware.AllowContentType("application/json"))
	r.Use(middleware.StripSlashes)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/source", s.handle("source/list", sourceListHandler))

	r.Route("/source/{source}", func(r chi.Router) {
		r.Post("/query", s.handle("query", queryHandler))
		r.Post("/process", s.handle("process", processHandler))

		r.Get("/databases", s.handle("databases/list", databasesHandler))
		r.Route("/databases/{database}", func(r chi.Router) {
			r.Get("/", s.handle("databases/describe", describeHandler))
			r.Get("/locks", s.handle("databases/locks", locksHandler))
			r.Post("/cancel", s.handle("databases/cancel", cancelHandler))

			r.Get("/roles", s.handle("roles/list", rolesHandler))
			r.Post("/roles", s.handle("roles/create", createRoleHandler))
			r.Put("/roles/{role}", s.handle("roles/update", updateRoleHandler))
			r.Delete("/roles/{role}", s.handle("roles/delete", deleteRoleHandler))
			r.Get("/roles/{role}/members", s.handle("roles/members/list", membersHandler))
			r.Post("/roles/{role}/members", s.handle("roles/members/add", addMembersHandler))
			r.Delete("/roles/{role}/members", s.handle("roles/members/remove", removeMembersHandler))
		})

		r.Get("/server", s.handle("server/details", serverDetailsHandler))
		r.Post("/server/pause", s.handle("server/pause", serverPauseHandler))
		r.Post("/server/resume", s.handle("server/resume", serverResumeHandler))
		r.Post("/server/scale", s.handle("server/scale", serverScaleHandler))
	})

	return r, nil
}

// apiHandler serves one API route. A returned error is rendered with the
// status of its category.
type apiHandler func(s *Server, w http.ResponseWriter, r *http.Request) error

// handle wraps h with a span, a request id and the API call counter. Errors
// are rendered as JSON.
func (s *Server) handle(op string, h apiHandler) http.HandlerFunc {
	return s.instrumented(op, h, func(w http.ResponseWriter, r *http.Request, err error, status int) {
		_ = render.Render(w, r, newErrResponse(err, status))
	})
}

func (s *Server) instrumented(op string, h apiHandler, renderErr func(http.ResponseWriter, *http.Request, error, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.instrumentation.Tracer.Start(r.Context(), "tabular/server/"+op)
		ctx = util.WithLogger(ctx, s.logger)
		r = r.WithContext(ctx)

		requestID := uuid.NewString()
		w.Header().Set(requestIDHeader, requestID)
		sourceName := chi.URLParam(r, "source")
		span.SetAttributes(
			attribute.String("request_id", requestID),
			attribute.String("source_name", sourceName),
		)

		err := h(s, w, r)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			status := errStatus(err)
			if status >= http.StatusInternalServerError {
				s.logger.ErrorContext(ctx, fmt.Sprintf("%s %s failed: %v", op, requestID, err))
			} else {
				s.logger.DebugContext(ctx, fmt.Sprintf("%s %s rejected: %v", op, requestID, err))
			}
			renderErr(w, r, err, status)
		}
		span.End()
		telemetry.Record(ctx, s.instrumentation.APICall, op, err)
	}
}

// notFoundError reports an unknown source or an absent object.
type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }

func errStatus(err error) int {
	var nf *notFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	return util.HTTPStatus(err)
}

// clientSource is implemented by sources that front a tabular server.
type clientSource interface {
	Client() *tabular.Client
}

func sourceClient(s *Server, r *http.Request) (*tabular.Client, error) {
	name := chi.URLParam(r, "source")
	src, ok := s.ResourceMgr.GetSource(name)
	if !ok {
		return nil, &notFoundError{msg: fmt.Sprintf("source %q does not exist", name)}
	}
	cs, ok := src.(clientSource)
	if !ok {
		return nil, util.NewConfigurationError(fmt.Sprintf("source %q of type %q is not a tabular server", name, src.SourceType()), nil)
	}
	return cs.Client(), nil
}

func sourceController(s *Server, r *http.Request) (*azureas.Controller, error) {
	c, err := sourceClient(s, r)
	if err != nil {
		return nil, err
	}
	return c.Controller()
}

func decodeBody(r *http.Request, v any) error {
	if err := util.DecodeJSON(r.Body, v); err != nil {
		return util.NewConfigurationError("request body was invalid JSON", err)
	}
	return nil
}

type sourceInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func sourceListHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	names := s.ResourceMgr.SourceNames()
	out := make([]sourceInfo, 0, len(names))
	for _, name := range names {
		src, ok := s.ResourceMgr.GetSource(name)
		if !ok {
			continue
		}
		out = append(out, sourceInfo{Name: name, Type: src.SourceType()})
	}
	render.JSON(w, r, map[string]any{"serverVersion": s.version, "sources": out})
	return nil
}

type queryRequest struct {
	Query             string         `json:"query"`
	Database          string         `json:"database"`
	EffectiveUserName string         `json:"effectiveUserName"`
	Parameters        map[string]any `json:"parameters"`
}

type queryResponse struct {
	Columns []string   `json:"columns"`
	Rows    []xmla.Row `json:"rows"`
	Count   int        `json:"count"`
}

func queryHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Query == "" {
		return util.NewConfigurationError("query is required", nil)
	}
	params, err := util.ConvertNumbers(req.Parameters)
	if err != nil {
		return util.NewConfigurationError("invalid query parameters", err)
	}
	spec := tabular.QuerySpec{
		Query: req.Query,
		Settings: &tabular.QuerySettings{
			Database:          req.Database,
			EffectiveUserName: req.EffectiveUserName,
		},
	}
	if m, ok := params.(map[string]any); ok && len(m) > 0 {
		spec.Params = tabular.ParamsFromMap(m)
	}
	res, err := c.QueryTable(r.Context(), spec)
	if err != nil {
		return err
	}
	render.JSON(w, r, queryResponse{Columns: res.ColumnNames(), Rows: res.Rows, Count: len(res.Rows)})
	return nil
}

type processRequest struct {
	Type    string               `json:"type"`
	Objects []xmla.ProcessObject `json:"objects"`
}

func processHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	t, err := xmla.ParseRefreshType(req.Type)
	if err != nil {
		return util.NewConfigurationError("invalid process request", err)
	}
	n, err := c.ProcessType(r.Context(), t, req.Objects...)
	if err != nil {
		return err
	}
	render.JSON(w, r, map[string]any{"type": t, "count": n})
	return nil
}

func databasesHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	dbs, err := c.Databases(r.Context())
	if err != nil {
		return err
	}
	if dbs == nil {
		dbs = []tabular.Database{}
	}
	render.JSON(w, r, map[string]any{"databases": dbs})
	return nil
}

func describeHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	desc, err := c.Describe(r.Context(), chi.URLParam(r, "database"))
	if err != nil {
		return err
	}
	render.JSON(w, r, desc)
	return nil
}

func locksHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	locks, err := c.Locks(r.Context(), chi.URLParam(r, "database"))
	if err != nil {
		return err
	}
	if locks == nil {
		locks = []tabular.Lock{}
	}
	render.JSON(w, r, map[string]any{"locks": locks})
	return nil
}

func cancelHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	c, err := sourceClient(s, r)
	if err != nil {
		return err
	}
	n, err := c.CancelProcessing(r.Context(), chi.URLParam(r, "database"))
	if err != nil {
		return err
	}
	render.JSON(w, r, map[string]any{"cancelled": n})
	return nil
}

var _ render.Renderer = &errResponse{} // Renderer interface for managing response payloads.

// newErrResponse is a helper function initializing an ErrResponse
func newErrResponse(err error, code int) *errResponse {
	return &errResponse{
		Err:            err,
		HTTPStatusCode: code,

		StatusText: http.StatusText(code),
		Category:   string(util.CategoryOf(err)),
		ErrorText:  err.Error(),
	}
}

// errResponse is the response sent back when an error has been encountered.
type errResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText string `json:"status"`             // user-level status message
	Category   string `json:"category,omitempty"` // error category, when known
	ErrorText  string `json:"error,omitempty"`    // application-level error message, for debugging
}

func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}
