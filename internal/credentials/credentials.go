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

// Package credentials caches Azure AD token credentials so that every
// connection to the same identity reuses one credential, and with it the
// token cache of the identity library.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

// Kind names a credential flavour.
type Kind string

const (
	// ClientSecret takes tenant, client and secret.
	ClientSecret Kind = "client-secret"
	// ManagedIdentity takes the user assigned client id, or "" for the system
	// assigned identity.
	ManagedIdentity Kind = "managed-identity"
	// UsernamePassword takes user, password, tenant and client.
	UsernamePassword Kind = "username-password"
)

var arity = map[Kind]int{
	ClientSecret:     3,
	ManagedIdentity:  1,
	UsernamePassword: 4,
}

// Cache hands out one credential per distinct kind, cloud and key parts.
// Entries live for the life of the cache.
type Cache struct {
	creds *cache.Cache[azcore.TokenCredential]

	// Constructors, replaceable in tests.
	NewClientSecret     func(tenantID, clientID, secret string, opts azcore.ClientOptions) (azcore.TokenCredential, error)
	NewManagedIdentity  func(clientID string, opts azcore.ClientOptions) (azcore.TokenCredential, error)
	NewUsernamePassword func(user, password, tenantID, clientID string, opts azcore.ClientOptions) (azcore.TokenCredential, error)
}

func New() *Cache {
	return &Cache{
		creds:               cache.New[azcore.TokenCredential](nil),
		NewClientSecret:     newClientSecret,
		NewManagedIdentity:  newManagedIdentity,
		NewUsernamePassword: newUsernamePassword,
	}
}

// Resolve returns the cached credential for kind and parts in the cloud cfg,
// building it on the first request. Concurrent first requests for one key
// share a single construction.
func (c *Cache) Resolve(kind Kind, cfg cloud.Configuration, parts ...string) (azcore.TokenCredential, error) {
	want, ok := arity[kind]
	if !ok {
		return nil, util.NewConfigurationError(fmt.Sprintf("unknown credential kind %q", kind), nil)
	}
	if len(parts) != want {
		return nil, util.NewConfigurationError(
			fmt.Sprintf("credential kind %q takes %d key parts, got %d", kind, want, len(parts)), nil)
	}

	opts := azcore.ClientOptions{Cloud: cfg}
	return c.creds.GetOrLoad(context.Background(), cacheKey(kind, cfg, parts), func(context.Context) (azcore.TokenCredential, error) {
		var cred azcore.TokenCredential
		var err error
		switch kind {
		case ClientSecret:
			cred, err = c.NewClientSecret(parts[0], parts[1], parts[2], opts)
		case ManagedIdentity:
			cred, err = c.NewManagedIdentity(parts[0], opts)
		case UsernamePassword:
			cred, err = c.NewUsernamePassword(parts[0], parts[1], parts[2], parts[3], opts)
		}
		if err != nil {
			return nil, util.NewAuthenticationError(fmt.Sprintf("unable to create %s credential", kind), err)
		}
		return cred, nil
	})
}

// Len reports the number of cached credentials.
func (c *Cache) Len() int { return c.creds.Len() }

func cacheKey(kind Kind, cfg cloud.Configuration, parts []string) string {
	h := sha256.New()
	h.Write([]byte(cfg.ActiveDirectoryAuthorityHost))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return string(kind) + ":" + hex.EncodeToString(h.Sum(nil))
}

func newClientSecret(tenantID, clientID, secret string, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	return azidentity.NewClientSecretCredential(tenantID, clientID, secret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: opts})
}

func newManagedIdentity(clientID string, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	o := &azidentity.ManagedIdentityCredentialOptions{ClientOptions: opts}
	if strings.TrimSpace(clientID) != "" {
		o.ID = azidentity.ClientID(clientID)
	}
	return azidentity.NewManagedIdentityCredential(o)
}

func newUsernamePassword(user, password, tenantID, clientID string, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	//nolint:staticcheck
	return azidentity.NewUsernamePasswordCredential(tenantID, clientID, user, password,
		&azidentity.UsernamePasswordCredentialOptions{ClientOptions: opts})
}

type contextKey struct{}

// WithCache adds c into the context so that every source initialized from it
// shares one set of credentials.
func WithCache(ctx context.Context, c *Cache) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// CacheFromContext retrieves the credential cache or returns an error.
func CacheFromContext(ctx context.Context) (*Cache, error) {
	if c, ok := ctx.Value(contextKey{}).(*Cache); ok && c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unable to retrieve credential cache")
}
