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
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// LockType is the bitmask reported in DISCOVER_LOCKS.
type LockType int

const (
	LockNone             LockType = 0x0
	LockSession          LockType = 0x1
	LockRead             LockType = 0x2
	LockWrite            LockType = 0x4
	LockCommitRead       LockType = 0x8
	LockCommitWrite      LockType = 0x10
	LockCommitAbortable  LockType = 0x20
	LockCommitInProgress LockType = 0x40
	LockInvalid          LockType = 0x80
)

var lockNames = []struct {
	t    LockType
	name string
}{
	{LockSession, "LOCK_SESSION_LOCK"},
	{LockRead, "LOCK_READ"},
	{LockWrite, "LOCK_WRITE"},
	{LockCommitRead, "LOCK_COMMIT_READ"},
	{LockCommitWrite, "LOCK_COMMIT_WRITE"},
	{LockCommitAbortable, "LOCK_COMMIT_ABORTABLE"},
	{LockCommitInProgress, "LOCK_COMMIT_INPROGRESS"},
	{LockInvalid, "LOCK_INVALID"},
}

// Has reports whether every bit of flag is set.
func (t LockType) Has(flag LockType) bool { return t&flag == flag }

// Processing reports whether the lock is held by a processing command.
func (t LockType) Processing() bool { return t&(LockRead|LockWrite) != 0 }

func (t LockType) String() string {
	if t == LockNone {
		return "LOCK_NONE"
	}
	var names []string
	for _, n := range lockNames {
		if t.Has(n.t) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("LockType(%d)", int(t))
	}
	return strings.Join(names, "|")
}

// SessionInfo is a row of DISCOVER_SESSIONS.
type SessionInfo struct {
	ID              string     `json:"id" mapstructure:"SESSION_ID"`
	SPID            int        `json:"spid" mapstructure:"SESSION_SPID"`
	UserName        string     `json:"userName,omitempty" mapstructure:"SESSION_USER_NAME"`
	CurrentDatabase string     `json:"currentDatabase,omitempty" mapstructure:"SESSION_CURRENT_DATABASE"`
	StartTime       *time.Time `json:"startTime,omitempty" mapstructure:"SESSION_START_TIME"`
	LastCommand     string     `json:"lastCommand,omitempty" mapstructure:"SESSION_LAST_COMMAND"`
}

// Lock is a row of DISCOVER_LOCKS joined with the session holding it.
type Lock struct {
	SPID          int         `json:"spid" mapstructure:"SPID"`
	ID            string      `json:"id,omitempty" mapstructure:"LOCK_ID"`
	TransactionID string      `json:"transactionId,omitempty" mapstructure:"LOCK_TRANSACTION_ID"`
	Status        int         `json:"status" mapstructure:"LOCK_STATUS"`
	Type          LockType    `json:"type" mapstructure:"LOCK_TYPE"`
	TypeName      string      `json:"typeName" mapstructure:"-"`
	CreationTime  *time.Time  `json:"creationTime,omitempty" mapstructure:"LOCK_CREATION_TIME"`
	GrantTime     *time.Time  `json:"grantTime,omitempty" mapstructure:"LOCK_GRANT_TIME"`
	Session       SessionInfo `json:"session" mapstructure:"-"`
}

const (
	locksQuery    = "SELECT * FROM $SYSTEM.DISCOVER_LOCKS"
	sessionsQuery = "SELECT * FROM $SYSTEM.DISCOVER_SESSIONS"
)

// collect runs text on s and decodes every row.
func collect[T any](ctx context.Context, s *session.Session, text string) ([]T, error) {
	rs, err := s.Query(ctx, text)
	if err != nil {
		return nil, err
	}
	rows, err := rs.Rows()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := DecodeRow[T](row)
		if err != nil {
			return nil, util.NewExecutionError("unable to decode row", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Locks returns the locks held on database, or on every database when it is
// empty.
func (c *Client) Locks(ctx context.Context, database string) ([]Lock, error) {
	if err := util.CheckContext(ctx, "locks"); err != nil {
		return nil, err
	}
	s, err := c.open(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx)
	return locks(ctx, s, database)
}

func locks(ctx context.Context, s *session.Session, database string) ([]Lock, error) {
	ls, err := collect[Lock](ctx, s, locksQuery)
	if err != nil {
		return nil, err
	}
	sessions, err := collect[SessionInfo](ctx, s, sessionsQuery)
	if err != nil {
		return nil, err
	}
	bySPID := make(map[int]SessionInfo, len(sessions))
	for _, si := range sessions {
		bySPID[si.SPID] = si
	}
	var out []Lock
	for _, l := range ls {
		si, ok := bySPID[l.SPID]
		if !ok {
			continue
		}
		if database != "" && !strings.EqualFold(si.CurrentDatabase, database) {
			continue
		}
		l.Session = si
		l.TypeName = l.Type.String()
		out = append(out, l)
	}
	return out, nil
}

func anyProcessing(ls []Lock) bool {
	for _, l := range ls {
		if l.Type.Processing() {
			return true
		}
	}
	return false
}

// IsProcessing reports whether a processing command holds a lock on
// database.
func (c *Client) IsProcessing(ctx context.Context, database string) (bool, error) {
	ls, err := c.Locks(ctx, database)
	if err != nil {
		return false, err
	}
	return anyProcessing(ls), nil
}

// CancelProcessing cancels every connection processing database, together
// with the connections associated with it. It returns the number of
// connections cancelled.
func (c *Client) CancelProcessing(ctx context.Context, database string) (int, error) {
	h, err := c.factory.ServerHandle(ctx, c.desc, true)
	if err != nil {
		return 0, err
	}
	defer h.Close(ctx)
	ls, err := locks(ctx, h.Session(), database)
	if err != nil {
		return 0, err
	}
	seen := map[int]bool{}
	for _, l := range ls {
		if !l.Type.Processing() || seen[l.SPID] {
			continue
		}
		seen[l.SPID] = true
		if err := h.CancelSession(ctx, l.SPID, true); err != nil {
			return len(seen) - 1, err
		}
		c.logger.InfoContext(ctx, fmt.Sprintf("cancelled spid %d processing %q on %q", l.SPID, database, c.name))
	}
	return len(seen), nil
}

// Database summarizes one database of the server.
type Database struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Model              string    `json:"model,omitempty"`
	Description        string    `json:"description,omitempty"`
	State              string    `json:"state,omitempty"`
	CompatibilityLevel int       `json:"compatibilityLevel,omitempty"`
	Size               int64     `json:"size"`
	LastProcessed      time.Time `json:"lastProcessed"`
	LastUpdated        time.Time `json:"lastUpdated"`
	IsProcessing       bool      `json:"isProcessing"`
}

// Databases lists the databases of the server with their processing state.
func (c *Client) Databases(ctx context.Context) ([]Database, error) {
	if err := util.CheckContext(ctx, "databases"); err != nil {
		return nil, err
	}
	h, err := c.factory.ServerHandle(ctx, c.desc, false)
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)
	ls, err := locks(ctx, h.Session(), "")
	if err != nil {
		return nil, err
	}
	var out []Database
	for _, d := range h.Databases() {
		var dbLocks []Lock
		for _, l := range ls {
			if strings.EqualFold(l.Session.CurrentDatabase, d.Name) {
				dbLocks = append(dbLocks, l)
			}
		}
		out = append(out, c.database(d, anyProcessing(dbLocks)))
	}
	return out, nil
}

func (c *Client) database(d session.DatabaseInfo, processing bool) Database {
	db := Database{
		ID:                 d.ID,
		Name:               d.Name,
		Description:        d.Description,
		State:              d.State,
		CompatibilityLevel: d.CompatibilityLevel,
		Size:               d.EstimatedSize,
		LastProcessed:      d.LastProcessed,
		LastUpdated:        d.LastUpdate,
		IsProcessing:       processing,
	}
	if d.IsTabular() {
		db.Model = c.modelName()
	}
	return db
}

func (c *Client) modelName() string {
	if m := c.desc.Cube(); m != "" {
		return m
	}
	return "Model"
}
