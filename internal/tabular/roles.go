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

package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// Permission is the model permission of a role.
type Permission string

const (
	PermissionRead          Permission = "Read"
	PermissionReadRefresh   Permission = "ReadRefresh"
	PermissionAdministrator Permission = "Administrator"
)

// ParsePermission accepts a permission in any letter case. An empty string
// means Read.
func ParsePermission(s string) (Permission, error) {
	for _, p := range []Permission{PermissionRead, PermissionReadRefresh, PermissionAdministrator} {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	if s == "" {
		return PermissionRead, nil
	}
	return "", util.NewConfigurationError(fmt.Sprintf("unknown permission %q", s), nil)
}

func (p Permission) tmsl() string {
	switch p {
	case PermissionAdministrator:
		return "administrator"
	case PermissionReadRefresh:
		return "readRefresh"
	}
	return "read"
}

// permissionOf maps the ModelPermission column of TMSCHEMA_ROLES.
func permissionOf(v int64) Permission {
	switch v {
	case 5:
		return PermissionAdministrator
	case 3:
		return PermissionReadRefresh
	}
	return PermissionRead
}

// Outcome tells which of the possible results a role operation had.
type Outcome string

const (
	Created       Outcome = "Created"
	AlreadyExists Outcome = "AlreadyExists"
	Found         Outcome = "Found"
	NotFound      Outcome = "NotFound"
)

// ExternalIdentityProvider is the identity provider of added members.
const ExternalIdentityProvider = "AzureAD"

type Role struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Permission  Permission `json:"permission"`
}

type RoleMember struct {
	Name             string `json:"name"`
	IdentityProvider string `json:"identityProvider"`
	Role             Role   `json:"role"`
}

// roleState is a role with its members as stored in the role snapshot.
type roleState struct {
	ID      int64         `json:"id"`
	Role    Role          `json:"role"`
	Members []memberState `json:"members"`
}

type memberState struct {
	Name             string `json:"name"`
	MemberID         string `json:"memberId,omitempty"`
	IdentityProvider string `json:"identityProvider,omitempty"`
	MemberType       int64  `json:"memberType"`
}

func (r roleState) member(name string) int {
	for i, m := range r.Members {
		if strings.EqualFold(m.Name, name) {
			return i
		}
	}
	return -1
}

type roleRow struct {
	ID              int64  `mapstructure:"ID"`
	Name            string `mapstructure:"Name"`
	Description     string `mapstructure:"Description"`
	ModelPermission int64  `mapstructure:"ModelPermission"`
}

type membershipRow struct {
	RoleID           int64  `mapstructure:"RoleID"`
	MemberName       string `mapstructure:"MemberName"`
	MemberID         string `mapstructure:"MemberID"`
	IdentityProvider string `mapstructure:"IdentityProvider"`
	MemberType       int64  `mapstructure:"MemberType"`
}

const (
	rolesQuery       = "SELECT [ID], [Name], [Description], [ModelPermission] FROM $SYSTEM.TMSCHEMA_ROLES"
	membershipsQuery = "SELECT [RoleID], [MemberName], [MemberID], [IdentityProvider], [MemberType] FROM $SYSTEM.TMSCHEMA_ROLE_MEMBERSHIPS"
)

// RoleManager manages the roles of one database.
type RoleManager struct {
	c        *Client
	database string
}

// Roles returns the role manager of database.
func (c *Client) Roles(database string) *RoleManager {
	return &RoleManager{c: c, database: database}
}

func (m *RoleManager) cacheKey() string { return rolesKeyPrefix + m.database }

// snapshot returns the cached roles, loading them on a miss.
func (m *RoleManager) snapshot(ctx context.Context) ([]roleState, error) {
	if err := util.CheckContext(ctx, "roles"); err != nil {
		return nil, err
	}
	cached, ok, err := cache.GetJSON[[]roleState](ctx, m.c.store, m.cacheKey())
	if err != nil {
		m.c.logger.WarnContext(ctx, fmt.Sprintf("unable to read cached roles of %q: %s", m.database, err))
	} else if ok {
		return cached, nil
	}
	roles, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, m.c.store, m.cacheKey(), roles, m.c.describeTTL); err != nil {
		m.c.logger.WarnContext(ctx, fmt.Sprintf("unable to cache roles of %q: %s", m.database, err))
	}
	return roles, nil
}

func (m *RoleManager) load(ctx context.Context) ([]roleState, error) {
	s, err := m.c.open(ctx, &QuerySettings{Database: m.database})
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)
	roles, err := collect[roleRow](ctx, s, rolesQuery)
	if err != nil {
		return nil, err
	}
	memberships, err := collect[membershipRow](ctx, s, membershipsQuery)
	if err != nil {
		return nil, err
	}
	out := make([]roleState, 0, len(roles))
	for _, r := range roles {
		st := roleState{
			ID:      r.ID,
			Role:    Role{Name: r.Name, Description: r.Description, Permission: permissionOf(r.ModelPermission)},
			Members: []memberState{},
		}
		for _, ms := range memberships {
			if ms.RoleID == r.ID {
				st.Members = append(st.Members, memberState{
					Name:             ms.MemberName,
					MemberID:         ms.MemberID,
					IdentityProvider: ms.IdentityProvider,
					MemberType:       ms.MemberType,
				})
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func find(roles []roleState, name string) (roleState, bool) {
	for _, r := range roles {
		if strings.EqualFold(r.Role.Name, name) {
			return r, true
		}
	}
	return roleState{}, false
}

// Roles lists the roles of the database.
func (m *RoleManager) Roles(ctx context.Context) ([]Role, error) {
	states, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(states))
	for _, s := range states {
		out = append(out, s.Role)
	}
	return out, nil
}

// GetRoleExternalMembers lists the members of a role.
func (m *RoleManager) GetRoleExternalMembers(ctx context.Context, role string) ([]RoleMember, Outcome, error) {
	if err := requireName("role", role); err != nil {
		return nil, "", err
	}
	states, err := m.snapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	r, ok := find(states, role)
	if !ok {
		return nil, NotFound, nil
	}
	out := make([]RoleMember, 0, len(r.Members))
	for _, mb := range r.Members {
		out = append(out, RoleMember{Name: mb.Name, IdentityProvider: mb.IdentityProvider, Role: r.Role})
	}
	return out, Found, nil
}

// mutate checks that the database is idle, reads the current roles and runs
// change. A script returned by change is executed, after which the cached
// snapshots of the database are dropped.
func (m *RoleManager) mutate(ctx context.Context, op string, change func([]roleState) (string, error)) (err error) {
	defer func() { telemetry.Record(ctx, m.c.instr.Role, m.c.name, err) }()
	processing, err := m.c.IsProcessing(ctx, m.database)
	if err != nil {
		return err
	}
	if processing {
		return util.NewStateError(fmt.Sprintf("'%s' is currently being processed.", m.database), nil)
	}
	states, err := m.load(ctx)
	if err != nil {
		return err
	}
	script, err := change(states)
	if err != nil || script == "" {
		return err
	}
	if _, err := m.c.Execute(ctx, script); err != nil {
		return err
	}
	m.c.Invalidate(ctx, m.database)
	m.c.logger.InfoContext(ctx, fmt.Sprintf("%s on %q/%q", op, m.c.name, m.database))
	return nil
}

// CreateRole adds a role. AlreadyExists is returned when a role of that name
// exists.
func (m *RoleManager) CreateRole(ctx context.Context, name, description string, permission Permission) (Outcome, error) {
	if err := requireName("role", name); err != nil {
		return "", err
	}
	outcome := Created
	err := m.mutate(ctx, "create role", func(states []roleState) (string, error) {
		if _, ok := find(states, name); ok {
			outcome = AlreadyExists
			return "", nil
		}
		return createRoleScript(m.database, tmslRole{Name: name, Description: description, ModelPermission: permission.tmsl()})
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// DeleteRole removes a role.
func (m *RoleManager) DeleteRole(ctx context.Context, name string) (Outcome, error) {
	if err := requireName("role", name); err != nil {
		return "", err
	}
	outcome := Found
	err := m.mutate(ctx, "delete role", func(states []roleState) (string, error) {
		r, ok := find(states, name)
		if !ok {
			outcome = NotFound
			return "", nil
		}
		return deleteRoleScript(m.database, r.Role.Name)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// UpdateRole replaces the description and permission of a role.
func (m *RoleManager) UpdateRole(ctx context.Context, name string, updated Role) (Outcome, error) {
	if err := requireName("role", name); err != nil {
		return "", err
	}
	outcome := Found
	err := m.mutate(ctx, "update role", func(states []roleState) (string, error) {
		r, ok := find(states, name)
		if !ok {
			outcome = NotFound
			return "", nil
		}
		r.Role.Description = updated.Description
		r.Role.Permission = updated.Permission
		return replaceRoleScript(m.database, r)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// AddExternalMembers adds members to a role. Members already present are
// skipped, so only the added ones are returned.
func (m *RoleManager) AddExternalMembers(ctx context.Context, role string, members ...string) ([]RoleMember, Outcome, error) {
	if err := requireName("role", role); err != nil {
		return nil, "", err
	}
	outcome := Found
	added := []RoleMember{}
	err := m.mutate(ctx, "add role members", func(states []roleState) (string, error) {
		r, ok := find(states, role)
		if !ok {
			outcome = NotFound
			return "", nil
		}
		for _, name := range members {
			name = strings.TrimSpace(name)
			if name == "" || r.member(name) >= 0 {
				continue
			}
			r.Members = append(r.Members, memberState{Name: name, IdentityProvider: ExternalIdentityProvider})
			added = append(added, RoleMember{Name: name, IdentityProvider: ExternalIdentityProvider, Role: r.Role})
		}
		if len(added) == 0 {
			return "", nil
		}
		return replaceRoleScript(m.database, r)
	})
	if err != nil {
		return nil, "", err
	}
	return added, outcome, nil
}

// RemoveMembers removes members from a role and returns how many were
// removed. Naming a member the role does not have is a StateError and
// removes nothing.
func (m *RoleManager) RemoveMembers(ctx context.Context, role string, members ...string) (int, Outcome, error) {
	if err := requireName("role", role); err != nil {
		return 0, "", err
	}
	outcome := Found
	removed := 0
	err := m.mutate(ctx, "remove role members", func(states []roleState) (string, error) {
		r, ok := find(states, role)
		if !ok {
			outcome = NotFound
			return "", nil
		}
		for _, name := range members {
			i := r.member(name)
			if i < 0 {
				return "", util.NewStateError(fmt.Sprintf("Member '%s' not found.", name), nil)
			}
			r.Members = append(r.Members[:i:i], r.Members[i+1:]...)
			removed++
		}
		if removed == 0 {
			return "", nil
		}
		return replaceRoleScript(m.database, r)
	})
	if err != nil {
		return 0, "", err
	}
	return removed, outcome, nil
}

func requireName(what, name string) error {
	if strings.TrimSpace(name) == "" {
		return util.NewConfigurationError(what+" name must not be empty", nil)
	}
	return nil
}

type tmslMember struct {
	MemberName       string `json:"memberName"`
	MemberID         string `json:"memberId,omitempty"`
	IdentityProvider string `json:"identityProvider,omitempty"`
	MemberType       string `json:"memberType,omitempty"`
}

type tmslRole struct {
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	ModelPermission string       `json:"modelPermission"`
	Members         []tmslMember `json:"members,omitempty"`
}

type tmslObject struct {
	Database string `json:"database"`
	Role     string `json:"role,omitempty"`
}

func memberType(t int64) string {
	switch t {
	case 2:
		return "user"
	case 3:
		return "group"
	}
	return "auto"
}

func toTMSL(r roleState) tmslRole {
	out := tmslRole{Name: r.Role.Name, Description: r.Role.Description, ModelPermission: r.Role.Permission.tmsl()}
	for _, mb := range r.Members {
		tm := tmslMember{MemberName: mb.Name, MemberID: mb.MemberID, IdentityProvider: mb.IdentityProvider}
		if mb.IdentityProvider != "" {
			tm.MemberType = memberType(mb.MemberType)
		}
		out.Members = append(out.Members, tm)
	}
	return out
}

func marshalScript(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("unable to encode script: %w", err)
	}
	return string(b), nil
}

func createRoleScript(database string, role tmslRole) (string, error) {
	return marshalScript(map[string]any{
		"create": map[string]any{
			"parentObject": tmslObject{Database: database},
			"role":         role,
		},
	})
}

func deleteRoleScript(database, role string) (string, error) {
	return marshalScript(map[string]any{
		"delete": map[string]any{
			"object": tmslObject{Database: database, Role: role},
		},
	})
}

func replaceRoleScript(database string, r roleState) (string, error) {
	return marshalScript(map[string]any{
		"createOrReplace": map[string]any{
			"object": tmslObject{Database: database, Role: r.Role.Name},
			"role":   toTMSL(r),
		},
	})
}
