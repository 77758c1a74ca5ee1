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
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

func roleManager(s *Server, r *http.Request) (*tabular.RoleManager, error) {
	c, err := sourceClient(s, r)
	if err != nil {
		return nil, err
	}
	return c.Roles(chi.URLParam(r, "database")), nil
}

// renderOutcome writes body with the status matching outcome.
func renderOutcome(w http.ResponseWriter, r *http.Request, outcome tabular.Outcome, body map[string]any) {
	body["outcome"] = outcome
	switch outcome {
	case tabular.Created:
		render.Status(r, http.StatusCreated)
	case tabular.NotFound:
		render.Status(r, http.StatusNotFound)
	}
	render.JSON(w, r, body)
}

func rolesHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	roles, err := m.Roles(r.Context())
	if err != nil {
		return err
	}
	if roles == nil {
		roles = []tabular.Role{}
	}
	render.JSON(w, r, map[string]any{"roles": roles})
	return nil
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Permission  string `json:"permission"`
}

func createRoleHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	perm, err := tabular.ParsePermission(req.Permission)
	if err != nil {
		return err
	}
	outcome, err := m.CreateRole(r.Context(), req.Name, req.Description, perm)
	if err != nil {
		return err
	}
	renderOutcome(w, r, outcome, map[string]any{"role": tabular.Role{Name: req.Name, Description: req.Description, Permission: perm}})
	return nil
}

func updateRoleHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	perm, err := tabular.ParsePermission(req.Permission)
	if err != nil {
		return err
	}
	name := chi.URLParam(r, "role")
	updated := tabular.Role{Name: req.Name, Description: req.Description, Permission: perm}
	if updated.Name == "" {
		updated.Name = name
	}
	outcome, err := m.UpdateRole(r.Context(), name, updated)
	if err != nil {
		return err
	}
	renderOutcome(w, r, outcome, map[string]any{"role": updated})
	return nil
}

func deleteRoleHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	outcome, err := m.DeleteRole(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		return err
	}
	renderOutcome(w, r, outcome, map[string]any{})
	return nil
}

func membersHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	members, outcome, err := m.GetRoleExternalMembers(r.Context(), chi.URLParam(r, "role"))
	if err != nil {
		return err
	}
	if members == nil {
		members = []tabular.RoleMember{}
	}
	renderOutcome(w, r, outcome, map[string]any{"members": members})
	return nil
}

type membersRequest struct {
	Members []string `json:"members"`
}

func decodeMembers(r *http.Request) ([]string, error) {
	var req membersRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Members) == 0 {
		return nil, util.NewConfigurationError("members must not be empty", nil)
	}
	return req.Members, nil
}

func addMembersHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	names, err := decodeMembers(r)
	if err != nil {
		return err
	}
	added, outcome, err := m.AddExternalMembers(r.Context(), chi.URLParam(r, "role"), names...)
	if err != nil {
		return err
	}
	if added == nil {
		added = []tabular.RoleMember{}
	}
	renderOutcome(w, r, outcome, map[string]any{"added": added})
	return nil
}

func removeMembersHandler(s *Server, w http.ResponseWriter, r *http.Request) error {
	m, err := roleManager(s, r)
	if err != nil {
		return err
	}
	names, err := decodeMembers(r)
	if err != nil {
		return err
	}
	n, outcome, err := m.RemoveMembers(r.Context(), chi.URLParam(r, "role"), names...)
	if err != nil {
		return err
	}
	renderOutcome(w, r, outcome, map[string]any{"removed": n})
	return nil
}
