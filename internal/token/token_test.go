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

package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

func TestRegion(t *testing.T) {
	tcs := []struct {
		desc    string
		in      string
		want    string
		wantErr bool
	}{
		{desc: "region", in: "asazure://westus.asazure.windows.net/myserver", want: "westus"},
		{desc: "upper case scheme", in: "ASAZURE://northeurope.asazure.windows.net/s", want: "northeurope"},
		{desc: "on-prem", in: "http://olap/msmdpump.dll", wantErr: true},
		{desc: "no dot", in: "asazure://westus", wantErr: true},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := Region(tc.in)
			if tc.wantErr {
				if util.CategoryOf(err) != util.CategoryConfiguration {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected region: got %q, want %q", got, tc.want)
			}
		})
	}
	if got := Scope("westus"); got != "https://westus.asazure.windows.net/.default" {
		t.Fatalf("unexpected scope %q", got)
	}
}

type fakeCredential struct {
	name     string
	calls    atomic.Int32
	lifetime time.Duration
	err      error
	scopes   []string
}

func (f *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	n := f.calls.Add(1)
	f.scopes = opts.Scopes
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{
		Token:     f.name + "-" + string(rune('0'+n)),
		ExpiresOn: time.Now().Add(f.lifetime),
	}, nil
}

type fakeCreds struct {
	secret, managed, user *fakeCredential
	built                 []credentials.Kind
}

func newResolver(t *testing.T, f *fakeCreds) *Resolver {
	t.Helper()
	c := credentials.New()
	c.NewClientSecret = func(string, string, string, azcore.ClientOptions) (azcore.TokenCredential, error) {
		f.built = append(f.built, credentials.ClientSecret)
		return f.secret, nil
	}
	c.NewManagedIdentity = func(string, azcore.ClientOptions) (azcore.TokenCredential, error) {
		f.built = append(f.built, credentials.ManagedIdentity)
		return f.managed, nil
	}
	c.NewUsernamePassword = func(string, string, string, string, azcore.ClientOptions) (azcore.TokenCredential, error) {
		f.built = append(f.built, credentials.UsernamePassword)
		return f.user, nil
	}
	return NewResolver(c, nil, nil)
}

func cloudDescriptor(t *testing.T, info *connstr.CloudResourceInfo) connstr.Descriptor {
	t.Helper()
	d, err := connstr.Configure("Data Source=asazure://westus.asazure.windows.net/myserver", info)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return d
}

func TestTokenCredentialChainOrder(t *testing.T) {
	tcs := []struct {
		desc string
		info *connstr.CloudResourceInfo
		want []credentials.Kind
	}{
		{
			desc: "secret only",
			info: &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"},
			want: []credentials.Kind{credentials.ClientSecret},
		},
		{
			desc: "all three",
			info: &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s", ManagedIdentityClientID: "mi", Username: "u", Password: "p"},
			want: []credentials.Kind{credentials.ClientSecret, credentials.ManagedIdentity, credentials.UsernamePassword},
		},
		{
			desc: "secret without client is skipped",
			info: &connstr.CloudResourceInfo{TenantID: "t", ClientSecret: "s", Username: "u", Password: "p"},
			want: []credentials.Kind{credentials.UsernamePassword},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			f := &fakeCreds{secret: &fakeCredential{}, managed: &fakeCredential{}, user: &fakeCredential{}}
			r := newResolver(t, f)
			if _, err := r.TokenCredential(cloudDescriptor(t, tc.info)); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if diff := cmp.Diff(tc.want, f.built); diff != "" {
				t.Fatalf("unexpected chain (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenCredentialErrors(t *testing.T) {
	r := newResolver(t, &fakeCreds{})

	_, err := r.TokenCredential(cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t"}))
	if util.CategoryOf(err) != util.CategoryConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}

	onprem, _ := connstr.Configure("Data Source=localhost", nil)
	if _, err := r.TokenCredential(onprem); util.CategoryOf(err) != util.CategoryConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAccessToken(t *testing.T) {
	f := &fakeCreds{secret: &fakeCredential{name: "secret", lifetime: time.Hour}}
	r := newResolver(t, f)
	desc := cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"})

	tok, err := r.AccessToken(context.Background(), desc)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if tok.Token != "secret-1" {
		t.Fatalf("unexpected token %q", tok.Token)
	}
	if tok.Descriptor.DataSource() != desc.DataSource() {
		t.Fatalf("token does not carry its descriptor")
	}
	if diff := cmp.Diff([]string{"https://westus.asazure.windows.net/.default"}, f.secret.scopes); diff != "" {
		t.Fatalf("unexpected scopes (-want +got):\n%s", diff)
	}
}

func TestAccessTokenScopeOverrides(t *testing.T) {
	tcs := []struct {
		desc string
		info *connstr.CloudResourceInfo
		want []string
	}{
		{
			desc: "explicit scopes",
			info: &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s", Scopes: []string{"api://x/.default"}},
			want: []string{"api://x/.default"},
		},
		{
			desc: "audience",
			info: &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s", Audience: "https://*.asazure.windows.net/"},
			want: []string{"https://*.asazure.windows.net/.default"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.desc, func(t *testing.T) {
			f := &fakeCreds{secret: &fakeCredential{lifetime: time.Hour}}
			r := newResolver(t, f)
			if _, err := r.AccessToken(context.Background(), cloudDescriptor(t, tc.info)); err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if diff := cmp.Diff(tc.want, f.secret.scopes); diff != "" {
				t.Fatalf("unexpected scopes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAccessTokenErrors(t *testing.T) {
	boom := errors.New("AADSTS7000215: invalid client secret")
	f := &fakeCreds{secret: &fakeCredential{err: boom}}
	r := newResolver(t, f)
	desc := cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"})

	_, err := r.AccessToken(context.Background(), desc)
	if util.CategoryOf(err) != util.CategoryAuthentication || !errors.Is(err, boom) {
		t.Fatalf("expected authentication error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := f.secret.calls.Load()
	_, err = r.AccessToken(ctx, desc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if f.secret.calls.Load() != calls {
		t.Fatalf("a cancelled context must not reach the credential")
	}
}

func TestSourceRefresh(t *testing.T) {
	f := &fakeCreds{secret: &fakeCredential{name: "s", lifetime: time.Hour}}
	r := newResolver(t, f)
	src := r.Source(cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"}))

	if !src.NeedsRefresh() {
		t.Fatalf("an empty source needs a refresh")
	}
	first, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	again, _ := src.Current(context.Background())
	if first.Token != again.Token {
		t.Fatalf("a fresh token must be reused")
	}

	// move the clock to within the skew
	src.now = func() time.Time { return first.ExpiresOn.Add(-time.Minute) }
	if !src.NeedsRefresh() {
		t.Fatalf("a token inside the skew needs a refresh")
	}
	next, err := src.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if next.Token == first.Token {
		t.Fatalf("expected a new token")
	}

	forced, err := src.Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if forced.Token == next.Token {
		t.Fatalf("Refresh must always acquire a new token")
	}
}

func TestSourceConcurrentCurrent(t *testing.T) {
	f := &fakeCreds{secret: &fakeCredential{name: "s", lifetime: time.Hour}}
	r := newResolver(t, f)
	src := r.Source(cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := src.Current(context.Background()); err != nil {
				t.Errorf("unexpected error: %s", err)
			}
		}()
	}
	wg.Wait()
	if got := f.secret.calls.Load(); got != 1 {
		t.Fatalf("unexpected token requests: got %d, want 1", got)
	}
}

func TestSourceOAuth2(t *testing.T) {
	f := &fakeCreds{secret: &fakeCredential{name: "s", lifetime: time.Hour}}
	r := newResolver(t, f)
	src := r.Source(cloudDescriptor(t, &connstr.CloudResourceInfo{TenantID: "t", ClientID: "c", ClientSecret: "s"}))

	tok, err := src.Token()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if tok.AccessToken != "s-1" || tok.Type() != "Bearer" || !tok.Valid() {
		t.Fatalf("unexpected oauth2 token %+v", tok)
	}
}
