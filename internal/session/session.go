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

// Package session opens XMLA over HTTP sessions against on-premises and
// cloud tabular servers.
package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/token"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"golang.org/x/oauth2"
)

// DefaultCancelTimeout bounds the server-side Cancel sent when a command is
// abandoned.
const DefaultCancelTimeout = 10 * time.Second

// Factory builds sessions. It owns the cluster cache and one token source per
// descriptor, so it should be shared by everything talking to a server.
type Factory struct {
	resolver      *token.Resolver
	logger        log.Logger
	instr         *telemetry.Instrumentation
	httpClient    *http.Client
	endpoints     Endpoints
	userAgent     string
	clusterTTL    time.Duration
	cancelTimeout time.Duration
	retries       uint
	retryInterval time.Duration

	clusters *cache.Cache[Cluster]
	sources  *cache.Cache[*token.Source]
}

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient sets the client whose transport carries every request.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

func WithLogger(l log.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

func WithInstrumentation(i *telemetry.Instrumentation) Option {
	return func(f *Factory) { f.instr = i }
}

// WithEndpoints overrides the cloud URL layout.
func WithEndpoints(e Endpoints) Option {
	return func(f *Factory) { f.endpoints = e }
}

func WithUserAgent(ua string) Option {
	return func(f *Factory) { f.userAgent = ua }
}

// WithClusterTTL sets the sliding lifetime of resolved clusters.
func WithClusterTTL(d time.Duration) Option {
	return func(f *Factory) { f.clusterTTL = d }
}

// WithCancelTimeout bounds server-side cancellation requests.
func WithCancelTimeout(d time.Duration) Option {
	return func(f *Factory) { f.cancelTimeout = d }
}

// WithRetry sets the number of attempts and the first back-off interval of
// cluster resolution.
func WithRetry(tries uint, initial time.Duration) Option {
	return func(f *Factory) {
		f.retries = tries
		f.retryInterval = initial
	}
}

// NewFactory returns a Factory acquiring cloud tokens through resolver.
func NewFactory(resolver *token.Resolver, opts ...Option) *Factory {
	f := &Factory{
		resolver:      resolver,
		logger:        log.NewDiscardLogger(),
		instr:         telemetry.NewNoopInstrumentation(),
		httpClient:    http.DefaultClient,
		clusterTTL:    DefaultClusterTTL,
		cancelTimeout: DefaultCancelTimeout,
		retries:       3,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.userAgent != "" {
		base := *f.httpClient
		base.Transport = util.NewUserAgentRoundTripper(f.userAgent, base.Transport)
		f.httpClient = &base
	}
	f.clusters = cache.New[Cluster](nil, cache.WithSlidingTTL(f.clusterTTL))
	f.sources = cache.New[*token.Source](nil)
	return f
}

// Close stops the background cleanup of the factory caches.
func (f *Factory) Close() {
	f.clusters.Close()
	f.sources.Close()
}

// InvalidateCluster drops the cached cluster of desc, forcing the next open
// to resolve it again.
func (f *Factory) InvalidateCluster(desc connstr.Descriptor) {
	f.clusters.Delete(clusterKey(desc))
}

// TokenSource returns the shared token source of desc.
func (f *Factory) TokenSource(ctx context.Context, desc connstr.Descriptor) (*token.Source, error) {
	if f.resolver == nil {
		return nil, util.NewConfigurationError("no token resolver configured", nil)
	}
	src, err := f.sources.GetOrLoad(ctx, desc.Key(), func(context.Context) (*token.Source, error) {
		return f.resolver.Source(desc), nil
	})
	return src, util.WrapContextError(ctx, "token source", err)
}

// Open builds a new session for desc. For cloud targets the cluster is
// resolved and a token acquired before Open returns; the XMLA session itself
// begins with the first command.
func (f *Factory) Open(ctx context.Context, desc connstr.Descriptor) (*Session, error) {
	if err := util.CheckContext(ctx, "open session"); err != nil {
		return nil, err
	}
	s := &Session{
		factory:       f,
		desc:          desc,
		logger:        f.logger,
		catalog:       desc.Catalog(),
		effectiveUser: desc.EffectiveUserName(),
		locale:        desc.Locale(),
		timeout:       desc.Timeout(),
		header:        http.Header{},
	}

	if desc.IsCloud() {
		cluster, err := f.ResolveCluster(ctx, desc)
		if err != nil {
			return nil, err
		}
		src, err := f.TokenSource(ctx, desc)
		if err != nil {
			return nil, err
		}
		if _, err := src.Current(ctx); err != nil {
			return nil, err
		}
		s.endpoint = f.endpoints.xmla(cluster.FQDN)
		s.header.Set(headerXMLAServer, cluster.CoreServerName)
		s.header.Set(headerNegotiationFlags, negotiationFlags)
		s.client = &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: f.httpClient.Transport},
			Timeout:   f.httpClient.Timeout,
		}
	} else {
		endpoint, err := OnPremEndpoint(desc.DataSource())
		if err != nil {
			return nil, err
		}
		s.endpoint = endpoint
		s.user, s.password = desc.Credentials()
		s.client = f.httpClient
	}
	f.logger.DebugContext(ctx, fmt.Sprintf("opened %s session to %q", desc.Transport(), s.endpoint))
	return s, nil
}
