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

// Package tabular runs queries, processing and management operations against
// one tabular server.
package tabular

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
)

const (
	// DefaultDescribeTTL is how long database descriptions and role
	// snapshots stay cached.
	DefaultDescribeTTL = 10 * time.Minute

	describeKeyPrefix = "TableDescriptions:"
	rolesKeyPrefix    = "Roles:"
)

// Client is the entry point for every operation on one server. It is safe
// for concurrent use; each operation opens its own session.
type Client struct {
	name        string
	desc        connstr.Descriptor
	factory     *session.Factory
	store       cache.Store
	ownStore    *cache.MemoryStore
	describeTTL time.Duration
	jsonMode    xmla.JSONMode
	controller  *azureas.Controller
	logger      log.Logger
	instr       *telemetry.Instrumentation

	// handleMu guards the shared management handle used for on-prem XMLA.
	handleMu sync.Mutex
	handle   *session.ServerHandle
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithStore sets the metadata cache. Without it an in-memory store is used.
func WithStore(s cache.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithDescribeTTL sets how long descriptions and role snapshots are cached.
func WithDescribeTTL(d time.Duration) Option {
	return func(c *Client) { c.describeTTL = d }
}

// WithJSONMode selects how empty fields of refresh scripts are written.
func WithJSONMode(m xmla.JSONMode) Option {
	return func(c *Client) { c.jsonMode = m }
}

// WithController attaches the cloud control plane of the server.
func WithController(ctrl *azureas.Controller) Option {
	return func(c *Client) { c.controller = ctrl }
}

func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithInstrumentation(i *telemetry.Instrumentation) Option {
	return func(c *Client) { c.instr = i }
}

// NewClient returns a client for desc that opens sessions through factory.
func NewClient(desc connstr.Descriptor, factory *session.Factory, opts ...Option) *Client {
	c := &Client{
		name:        desc.ServerName(),
		desc:        desc,
		factory:     factory,
		describeTTL: DefaultDescribeTTL,
		logger:      log.NewDiscardLogger(),
		instr:       telemetry.NewNoopInstrumentation(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.ownStore = cache.NewMemoryStore()
		c.store = c.ownStore
	}
	return c
}

// Name returns the name of the client.
func (c *Client) Name() string { return c.name }

// Descriptor returns the connection descriptor of the server.
func (c *Client) Descriptor() connstr.Descriptor { return c.desc }

// Controller returns the cloud control plane, or a ConfigurationError when
// the server has none.
func (c *Client) Controller() (*azureas.Controller, error) {
	if c.controller == nil {
		return nil, util.NewConfigurationError(fmt.Sprintf("%q has no cloud control plane configured", c.name), nil)
	}
	return c.controller, nil
}

// Close releases the shared management handle and the private cache.
func (c *Client) Close(ctx context.Context) error {
	c.handleMu.Lock()
	h := c.handle
	c.handle = nil
	c.handleMu.Unlock()
	var err error
	if h != nil {
		err = h.Close(ctx)
	}
	if c.ownStore != nil {
		c.ownStore.Close()
	}
	return err
}

// open returns a started session with the catalog and effective user of
// settings applied. The session is begun before any command is sent so that
// cancelling ctx stops the command on the server.
func (c *Client) open(ctx context.Context, settings *QuerySettings) (*session.Session, error) {
	s, err := c.factory.Open(ctx, c.desc)
	if err != nil {
		return nil, err
	}
	if err := c.apply(s, settings); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	if err := s.Begin(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (c *Client) apply(s *session.Session, settings *QuerySettings) error {
	if settings == nil {
		return nil
	}
	if settings.EffectiveUserName != "" {
		if err := s.ChangeEffectiveUser(settings.EffectiveUserName); err != nil {
			return err
		}
	}
	if settings.Database != "" {
		if err := s.ChangeDatabase(settings.Database); err != nil {
			return err
		}
	}
	if settings.Timeout > 0 {
		s.SetTimeout(settings.Timeout)
	}
	return nil
}

// Invalidate drops every cached snapshot of database.
func (c *Client) Invalidate(ctx context.Context, database string) {
	for _, key := range []string{describeKeyPrefix + database, rolesKeyPrefix + database} {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.WarnContext(ctx, fmt.Sprintf("unable to invalidate %q: %s", key, err))
		}
	}
}

func (c *Client) invalidateDescribe(ctx context.Context, database string) {
	if err := c.store.Delete(ctx, describeKeyPrefix+database); err != nil {
		c.logger.WarnContext(ctx, fmt.Sprintf("unable to invalidate description of %q: %s", database, err))
	}
}
