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

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/goccy/go-yaml"
	"github.com/googleapis/tabular-toolbox/internal/cache"
	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const SourceType string = "redis"

// entraScope is the token scope accepted by Azure Cache for Redis.
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
	Name           string   `yaml:"name" validate:"required"`
	Type           string   `yaml:"type" validate:"required"`
	Address        []string `yaml:"address" validate:"required"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Database       int      `yaml:"database"`
	ClusterEnabled bool     `yaml:"clusterEnabled"`
	// KeyPrefix namespaces every cached snapshot. Defaults to "tabular:".
	KeyPrefix string `yaml:"keyPrefix"`
	// UseManagedIdentity authenticates with an Entra ID token of the managed
	// identity instead of a password.
	UseManagedIdentity      bool   `yaml:"useManagedIdentity"`
	ManagedIdentityClientID string `yaml:"managedIdentityClientId"`
}

func (r Config) SourceConfigType() string {
	return SourceType
}

// RedisClient is an interface for `redis.Client` and `redis.ClusterClient`
type RedisClient interface {
	cache.RedisClient
	Close() error
}

var _ RedisClient = (*redis.Client)(nil)
var _ RedisClient = (*redis.ClusterClient)(nil)

func (r Config) Initialize(ctx context.Context, tracer trace.Tracer, _ map[string]sources.Source) (sources.Source, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, SourceType, r.Name)
	defer span.End()

	client, err := initRedisClient(ctx, r, credentials.New())
	if err != nil {
		return nil, fmt.Errorf("error initializing Redis client: %s", err)
	}
	return newSource(r, client), nil
}

func newSource(r Config, client RedisClient) *Source {
	prefix := r.KeyPrefix
	if prefix == "" {
		prefix = "tabular:"
	}
	return &Source{
		Config: r,
		Client: client,
		store:  cache.NewRedisStore(client, prefix),
	}
}

// credentialsProvider returns the user name and an Entra ID token of the
// managed identity for every new connection.
func credentialsProvider(r Config, creds *credentials.Cache) (func(ctx context.Context) (string, string, error), error) {
	cred, err := creds.Resolve(credentials.ManagedIdentity, cloud.AzurePublic, r.ManagedIdentityClientID)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (string, string, error) {
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{entraScope}})
		if err != nil {
			return "", "", err
		}
		return r.Username, tok.Token, nil
	}, nil
}

func initRedisClient(ctx context.Context, r Config, creds *credentials.Cache) (RedisClient, error) {
	var authFn func(ctx context.Context) (username string, password string, err error)
	if r.UseManagedIdentity {
		fn, err := credentialsProvider(r, creds)
		if err != nil {
			return nil, err
		}
		authFn = fn
	}

	if r.ClusterEnabled {
		clusterClient := redis.NewClusterClient(&redis.ClusterOptions{
			Addrs: r.Address,
			// PoolSize applies per cluster node and not for the whole cluster.
			PoolSize:                   10,
			ConnMaxIdleTime:            60 * time.Second,
			MinIdleConns:               1,
			CredentialsProviderContext: authFn,
			Username:                   r.Username,
			Password:                   r.Password,
		})
		err := clusterClient.ForEachShard(ctx, func(ctx context.Context, shard *redis.Client) error {
			return shard.Ping(ctx).Err()
		})
		if err != nil {
			_ = clusterClient.Close()
			return nil, fmt.Errorf("unable to connect to redis cluster: %s", err)
		}
		return clusterClient, nil
	}

	standaloneClient := redis.NewClient(&redis.Options{
		Addr:                       r.Address[0],
		PoolSize:                   10,
		ConnMaxIdleTime:            60 * time.Second,
		MinIdleConns:               1,
		DB:                         r.Database,
		CredentialsProviderContext: authFn,
		Username:                   r.Username,
		Password:                   r.Password,
	})
	if _, err := standaloneClient.Ping(ctx).Result(); err != nil {
		_ = standaloneClient.Close()
		return nil, fmt.Errorf("unable to connect to redis: %s", err)
	}
	return standaloneClient, nil
}

var _ sources.StoreSource = &Source{}

type Source struct {
	Config
	Client RedisClient
	store  *cache.RedisStore
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
	return s.Client.Close()
}
