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

// Package token obtains and refreshes Azure AD access tokens for Azure
// Analysis Services.
package token

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"golang.org/x/oauth2"
)

// DefaultSkew is how long before expiry a token is considered stale.
const DefaultSkew = 2 * time.Minute

var regionPattern = regexp.MustCompile(`(?i)^asazure://([^.]+)\.`)

// Region extracts the region from an asazure:// data source, e.g. "westus"
// from asazure://westus.asazure.windows.net/myserver.
func Region(dataSource string) (string, error) {
	m := regionPattern.FindStringSubmatch(strings.TrimSpace(dataSource))
	if m == nil {
		return "", util.NewConfigurationError(fmt.Sprintf(
			"invalid data source %q: Azure Analysis Services servers are addressed as asazure://<region>.asazure.windows.net/<server>", dataSource), nil)
	}
	return m[1], nil
}

// Resource returns the token audience of a region.
func Resource(region string) string {
	return "https://" + region + ".asazure.windows.net"
}

// Scope returns the default scope of a region.
func Scope(region string) string {
	return Resource(region) + "/.default"
}

// AccessToken is a bearer token together with the descriptor it was issued
// for.
type AccessToken struct {
	Token      string
	ExpiresOn  time.Time
	Descriptor connstr.Descriptor
}

// Resolver builds credential chains from cloud resource info and acquires
// tokens with them.
type Resolver struct {
	creds  *credentials.Cache
	logger log.Logger
	instr  *telemetry.Instrumentation
}

func NewResolver(creds *credentials.Cache, logger log.Logger, instr *telemetry.Instrumentation) *Resolver {
	if logger == nil {
		logger = log.NewDiscardLogger()
	}
	if instr == nil {
		instr = telemetry.NewNoopInstrumentation()
	}
	return &Resolver{creds: creds, logger: logger, instr: instr}
}

// Scopes returns the scopes a token for desc is requested with. Explicit
// scopes win over an explicit audience, which wins over the region default.
func (r *Resolver) Scopes(desc connstr.Descriptor) ([]string, error) {
	info := desc.Cloud()
	if info != nil && len(info.Scopes) > 0 {
		return info.Scopes, nil
	}
	if info != nil && info.Audience != "" {
		aud := strings.TrimRight(info.Audience, "/")
		if !strings.HasSuffix(aud, "/.default") {
			aud += "/.default"
		}
		return []string{aud}, nil
	}
	region, err := Region(desc.DataSource())
	if err != nil {
		return nil, err
	}
	return []string{Scope(region)}, nil
}

// TokenCredential assembles the credential chain for desc. Members are tried
// in order: client secret, managed identity, then user name and password.
func (r *Resolver) TokenCredential(desc connstr.Descriptor) (azcore.TokenCredential, error) {
	info := desc.Cloud()
	if info == nil {
		return nil, util.NewConfigurationError(fmt.Sprintf("%s is not an Azure Analysis Services data source", desc.DataSource()), nil)
	}
	cfg := info.Cloud.Configuration()
	if info.Instance != "" {
		cfg.ActiveDirectoryAuthorityHost = info.Instance
	}

	type member struct {
		kind  credentials.Kind
		parts []string
	}
	var members []member
	if info.TenantID != "" && info.ClientID != "" && info.ClientSecret != "" {
		members = append(members, member{credentials.ClientSecret, []string{info.TenantID, info.ClientID, info.ClientSecret}})
	}
	if info.ManagedIdentityClientID != "" {
		members = append(members, member{credentials.ManagedIdentity, []string{info.ManagedIdentityClientID}})
	}
	if info.Username != "" && info.Password != "" {
		members = append(members, member{credentials.UsernamePassword, []string{info.Username, info.Password, info.TenantID, info.ClientID}})
	}
	if len(members) == 0 {
		return nil, util.NewConfigurationError(
			"no credential applies: set tenant, client and secret, a managed identity, or a user name and password", nil)
	}

	chain := make([]azcore.TokenCredential, 0, len(members))
	for _, m := range members {
		cred, err := r.creds.Resolve(m.kind, cfg, m.parts...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cred)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	cred, err := azidentity.NewChainedTokenCredential(chain, nil)
	if err != nil {
		return nil, util.NewAuthenticationError("unable to build credential chain", err)
	}
	return cred, nil
}

// AccessToken acquires a token for desc.
func (r *Resolver) AccessToken(ctx context.Context, desc connstr.Descriptor) (tok AccessToken, err error) {
	defer func() {
		telemetry.Record(ctx, r.instr.TokenAcquire, desc.ServerName(), err)
	}()
	if err := util.CheckContext(ctx, "token acquisition"); err != nil {
		return AccessToken{}, err
	}
	scopes, err := r.Scopes(desc)
	if err != nil {
		return AccessToken{}, err
	}
	cred, err := r.TokenCredential(desc)
	if err != nil {
		return AccessToken{}, err
	}

	opts := policy.TokenRequestOptions{Scopes: scopes}
	if info := desc.Cloud(); info.TenantID != "" {
		opts.TenantID = info.TenantID
	}
	t, err := cred.GetToken(ctx, opts)
	if err != nil {
		if wrapped := util.WrapContextError(ctx, "token acquisition", err); util.CategoryOf(wrapped) == util.CategoryCancelled {
			return AccessToken{}, wrapped
		}
		return AccessToken{}, util.NewAuthenticationError(
			fmt.Sprintf("unable to acquire access token for %s", desc.DataSource()), err)
	}
	r.logger.DebugContext(ctx, fmt.Sprintf("acquired access token for %q expiring %s", desc.ServerName(), t.ExpiresOn.Format(time.RFC3339)))
	return AccessToken{Token: t.Token, ExpiresOn: t.ExpiresOn, Descriptor: desc}, nil
}

// Source keeps the current token of one descriptor and renews it shortly
// before it expires. It is safe for concurrent use.
type Source struct {
	resolver *Resolver
	desc     connstr.Descriptor
	skew     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	current AccessToken
}

var _ oauth2.TokenSource = (*Source)(nil)

// Source returns a token source for desc with the default skew.
func (r *Resolver) Source(desc connstr.Descriptor) *Source {
	return &Source{resolver: r, desc: desc, skew: DefaultSkew, now: time.Now}
}

// NeedsRefresh reports whether there is no token yet or the token expires
// within the skew.
func (s *Source) NeedsRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRefresh()
}

func (s *Source) needsRefresh() bool {
	return s.current.Token == "" || !s.now().Add(s.skew).Before(s.current.ExpiresOn)
}

// Refresh acquires a new token unconditionally and stores it.
func (s *Source) Refresh(ctx context.Context) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Source) refresh(ctx context.Context) (AccessToken, error) {
	tok, err := s.resolver.AccessToken(ctx, s.desc)
	if err != nil {
		return AccessToken{}, err
	}
	s.current = tok
	return tok, nil
}

// Current returns the stored token, refreshing it first when it is stale.
// Concurrent callers wait for a single refresh.
func (s *Source) Current(ctx context.Context) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.needsRefresh() {
		return s.current, nil
	}
	return s.refresh(ctx)
}

// Token implements oauth2.TokenSource.
func (s *Source) Token() (*oauth2.Token, error) {
	return s.contextSource(context.Background()).Token()
}

// TokenSource binds ctx to the refreshes the returned source performs.
func (s *Source) TokenSource(ctx context.Context) oauth2.TokenSource {
	return s.contextSource(ctx)
}

func (s *Source) contextSource(ctx context.Context) oauth2.TokenSource {
	return tokenSourceFunc(func() (*oauth2.Token, error) {
		tok, err := s.Current(ctx)
		if err != nil {
			return nil, err
		}
		return &oauth2.Token{AccessToken: tok.Token, TokenType: "Bearer", Expiry: tok.ExpiresOn}, nil
	})
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }
