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

package valkey

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/goccy/go-yaml"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"
)

const SourceType string = "valkey"

const entraScope = "https://redis.azure.com/.default"

// validate interface
var _ sources.SourceConfig = Config{}

func init() {
	if !sources.Register(SourceType, newConfig) {
		panic(fmt.Sprintf("source type %q already registered", SourceType))
	}
}

func newConfig(ctx context.Context, name string, decoder *yaml.Decoder) (sources.SourceConfig, error) {
	actual := Config{Name: name}
	if err := decoder.DecodeContext(ctx, &actual); err != nil {
		return nil, err
	}
	return actual, nil
}

type Config struct {
	Name                    string   `yaml:"name" validate:"required"`
	Type                    string   `yaml:"type" validate:"required"`
	Address                 []string `yaml:"address" validate:"required"`
	Username                string   `yaml:"username"`
	Password                string   `yaml:"password"`
	Database                int      `yaml:"database"`
	DisableCache            bool     `yaml:"disableCache"`
	KeyPrefix               string   `yaml:"keyPrefix"`
	UseManagedIdentity      bool     `yaml:"useManagedIdentity"`
	ManagedIdentityClientID string   `yaml:"managedIdentityClientId"`
}

func (r Config) SourceConfigType() string {
	return SourceType
}

func (r Config) Initialize(ctx context.Context, tracer trace.Tracer, _ map[string]sources.Source) (sources.Source, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, SourceType, r.Name)
	defer span.End()

	client, err := initValkeyClient(ctx, r, credentials.New())
	if err != nil {
		return nil, fmt.Errorf("error initializing Valkey client: %s", err)
	}
	return newSource(r, client), nil
}

func newSource(r Config, client valkey.Client) *Source {
	prefix := r.KeyPrefix
	if prefix == "" {
		prefix = "tabular:"
	}
	return &Source{
		Config: r,
		Client: client,
		store:  cache.NewValkeyStore(client, prefix),
	}
}

// authCredentials returns a valkey credentials callback that presents an
// Entra ID token of the managed identity.
func authCredentials(ctx context.Context, r Config, creds *credentials.Cache) (func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error), error) {
	cred, err := creds.Resolve(credentials.ManagedIdentity, cloud.AzurePublic, r.ManagedIdentityClientID)
	if err != nil {
		return nil, err
	}
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{entraScope}})
		if err != nil {
			return valkey.AuthCredentials{}, err
		}
		return valkey.AuthCredentials{Username: r.Username, Password: tok.Token}, nil
	}, nil
}

func initValkeyClient(ctx context.Context, r Config, creds *credentials.Cache) (valkey.Client, error) {
	var authFn func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error)
	if r.UseManagedIdentity {
		fn, err := authCredentials(context.WithoutCancel(ctx), r, creds)
		if err != nil {
			return nil, err
		}
		authFn = fn
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       r.Address,
		SelectDB:          r.Database,
		Username:          r.Username,
		Password:          r.Password,
		AuthCredentialsFn: authFn,
		DisableCache:      r.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create valkey client: %w", err)
	}

	// Ping the server to check connectivity
	pingCmd := client.B().Ping().Build()
	if _, err = client.Do(ctx, pingCmd).ToString(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping valkey: %w", err)
	}
	return client, nil
}

var _ sources.StoreSource = &Source{}

type Source struct {
	Config
	Client valkey.Client
	store  *cache.ValkeyStore
}

func (s *Source) SourceType() string {
	return SourceType
}

func (s *Source) ToConfig() sources.SourceConfig {
	return s.Config
}

// Store returns the metadata cache backed by this instance.
func (s *Source) Store() cache.Store {
	return s.store
}

func (s *Source) Close(context.Context) error {
	s.Client.Close()
	return nil
}
