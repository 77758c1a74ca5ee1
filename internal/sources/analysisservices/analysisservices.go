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

package analysisservices

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/credentials"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/token"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/trace"
)

const SourceType string = "analysis-services"

const (
	JSONModeDefault     = "default"
	JSONModeIgnoreEmpty = "ignoreEmpty"
)

// validate interface
var _ sources.SourceConfig = Config{}
var _ sources.Dependent = Config{}

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
	if _, err := actual.durations(); err != nil {
		return nil, err
	}
	return actual, nil
}

type Config struct {
	Name             string                     `yaml:"name" validate:"required"`
	Type             string                     `yaml:"type" validate:"required"`
	ConnectionString string                     `yaml:"connectionString" validate:"required"`
	Azure            *connstr.CloudResourceInfo `yaml:"azure"`
	JSONMode         string                     `yaml:"jsonMode" validate:"omitempty,oneof=default ignoreEmpty"`
	DescribeCacheTTL string                     `yaml:"describeCacheTTL"`
	ClusterCacheTTL  string                     `yaml:"clusterCacheTTL"`
	Timeout          string                     `yaml:"timeout"`
	// MetadataCache names a redis or valkey source shared by every replica.
	MetadataCache string `yaml:"metadataCache"`
}

func (r Config) SourceConfigType() string {
	return SourceType
}

func (r Config) Dependencies() []string {
	if r.MetadataCache == "" {
		return nil
	}
	return []string{r.MetadataCache}
}

type durations struct {
	describe, cluster, timeout time.Duration
}

func (r Config) durations() (durations, error) {
	var d durations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"describeCacheTTL", r.DescribeCacheTTL, &d.describe},
		{"clusterCacheTTL", r.ClusterCacheTTL, &d.cluster},
		{"timeout", r.Timeout, &d.timeout},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return d, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		if v < 0 {
			return d, fmt.Errorf("invalid %s %q: must not be negative", f.name, f.value)
		}
		*f.dst = v
	}
	return d, nil
}

func (r Config) jsonMode() xmla.JSONMode {
	if r.JSONMode == JSONModeIgnoreEmpty {
		return xmla.JSONModeIgnoreEmpty
	}
	return xmla.JSONModeDefault
}

func (r Config) Initialize(ctx context.Context, tracer trace.Tracer, deps map[string]sources.Source) (sources.Source, error) {
	ctx, span := sources.InitConnectionSpan(ctx, tracer, SourceType, r.Name)
	defer span.End()

	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		logger = log.NewDiscardLogger()
	}
	instr, err := util.InstrumentationFromContext(ctx)
	if err != nil {
		instr = telemetry.NewNoopInstrumentation()
	}

	d, err := r.durations()
	if err != nil {
		return nil, util.NewConfigurationError("invalid source configuration", err)
	}
	desc, err := connstr.Configure(r.ConnectionString, r.Azure)
	if err != nil {
		return nil, err
	}
	if d.timeout > 0 {
		if desc, err = desc.With(connstr.WithTimeout(d.timeout)); err != nil {
			return nil, err
		}
	}

	creds, err := credentials.CacheFromContext(ctx)
	if err != nil {
		creds = credentials.New()
	}
	resolver := token.NewResolver(creds, logger, instr)
	factoryOpts := []session.Option{
		session.WithLogger(logger),
		session.WithInstrumentation(instr),
	}
	if d.cluster > 0 {
		factoryOpts = append(factoryOpts, session.WithClusterTTL(d.cluster))
	}
	if ua, err := util.UserAgentFromContext(ctx); err == nil {
		factoryOpts = append(factoryOpts, session.WithUserAgent(ua))
	}
	factory := session.NewFactory(resolver, factoryOpts...)

	clientOpts := []tabular.Option{
		tabular.WithName(r.Name),
		tabular.WithJSONMode(r.jsonMode()),
		tabular.WithLogger(logger),
		tabular.WithInstrumentation(instr),
	}
	if d.describe > 0 {
		clientOpts = append(clientOpts, tabular.WithDescribeTTL(d.describe))
	}
	if r.MetadataCache != "" {
		store, ok := deps[r.MetadataCache].(sources.StoreSource)
		if !ok {
			factory.Close()
			return nil, util.NewConfigurationError(
				fmt.Sprintf("metadataCache %q must name a redis or valkey source", r.MetadataCache), nil)
		}
		clientOpts = append(clientOpts, tabular.WithStore(store.Store()))
	}
	if info := desc.Cloud(); desc.IsCloud() && info.SubscriptionID != "" && info.ResourceGroupName != "" {
		cred, err := resolver.TokenCredential(desc)
		if err != nil {
			factory.Close()
			return nil, err
		}
		ctrl, err := azureas.NewController(desc, cred,
			azureas.WithLogger(logger),
			azureas.WithInstrumentation(instr),
		)
		if err != nil {
			factory.Close()
			return nil, err
		}
		clientOpts = append(clientOpts, tabular.WithController(ctrl))
	}

	logger.DebugContext(ctx, fmt.Sprintf("source %q targets %s over %s", r.Name, desc.DataSource(), desc.Transport()))
	return &Source{
		Config:  r,
		client:  tabular.NewClient(desc, factory, clientOpts...),
		factory: factory,
	}, nil
}

var _ sources.Source = &Source{}
var _ sources.Closer = &Source{}

type Source struct {
	Config
	client  *tabular.Client
	factory *session.Factory
}

func (s *Source) SourceType() string {
	return SourceType
}

func (s *Source) ToConfig() sources.SourceConfig {
	return s.Config
}

// Client returns the dispatcher for the server of this source.
func (s *Source) Client() *tabular.Client {
	return s.client
}

func (s *Source) Close(ctx context.Context) error {
	err := s.client.Close(ctx)
	s.factory.Close()
	return err
}
