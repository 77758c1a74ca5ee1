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

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/util"
)

const (
	// DefaultClusterTTL is the sliding lifetime of a resolved cluster.
	DefaultClusterTTL = 30 * time.Minute

	headerXMLAServer       = "x-ms-xmlaserver"
	headerNegotiationFlags = "x-ms-xmlacaps-negotiation-flags"
	negotiationFlags       = "0,0,0,0,1"
)

// Cluster is the answer of the cloud cluster resolver.
type Cluster struct {
	FQDN           string `json:"clusterFQDN"`
	CoreServerName string `json:"coreServerName"`
	TenantID       string `json:"tenantId"`
}

// Endpoints builds the URLs of a cloud deployment. The zero value uses the
// public layout.
type Endpoints struct {
	ClusterResolve func(host string) string
	XMLA           func(clusterFQDN string) string
}

func (e Endpoints) clusterResolve(host string) string {
	if e.ClusterResolve != nil {
		return e.ClusterResolve(host)
	}
	return "https://" + host + "/webapi/clusterResolve"
}

func (e Endpoints) xmla(fqdn string) string {
	if e.XMLA != nil {
		return e.XMLA(fqdn)
	}
	return "https://" + fqdn + "/webapi/xmla"
}

// cloudHost returns the regional host of an asazure:// data source.
func cloudHost(dataSource string) (string, error) {
	u, err := url.Parse(dataSource)
	if err != nil || u.Host == "" {
		return "", util.NewConfigurationError(fmt.Sprintf("invalid cloud data source %q", dataSource), err)
	}
	return u.Host, nil
}

// OnPremEndpoint returns the XMLA HTTP endpoint of an on-premises data
// source. A bare host name is mapped to the default msmdpump.dll location.
func OnPremEndpoint(dataSource string) (string, error) {
	ds := strings.TrimSpace(dataSource)
	if ds == "" {
		return "", util.NewConfigurationError("data source is empty", nil)
	}
	if i := strings.Index(ds, "://"); i >= 0 {
		scheme := strings.ToLower(ds[:i])
		if scheme != "http" && scheme != "https" {
			return "", util.NewConfigurationError(fmt.Sprintf("unsupported data source scheme %q", scheme), nil)
		}
		if _, err := url.Parse(ds); err != nil {
			return "", util.NewConfigurationError(fmt.Sprintf("invalid data source %q", ds), err)
		}
		return ds, nil
	}
	return "http://" + ds + "/olap/msmdpump.dll", nil
}

// ResolveCluster asks the regional front end which cluster hosts the server
// of desc. Network failures and 5xx answers are retried; anything else fails
// at once.
func (f *Factory) ResolveCluster(ctx context.Context, desc connstr.Descriptor) (Cluster, error) {
	if !desc.IsCloud() {
		return Cluster{}, util.NewConfigurationError("cluster resolution requires a cloud data source", nil)
	}
	c, err := f.clusters.GetOrLoad(ctx, clusterKey(desc), func(ctx context.Context) (Cluster, error) {
		return f.resolveCluster(ctx, desc)
	})
	return c, util.WrapContextError(ctx, "resolve cluster", err)
}

func clusterKey(desc connstr.Descriptor) string {
	return strings.ToLower(desc.DataSource())
}

func (f *Factory) resolveCluster(ctx context.Context, desc connstr.Descriptor) (Cluster, error) {
	host, err := cloudHost(desc.DataSource())
	if err != nil {
		return Cluster{}, err
	}
	payload, err := json.Marshal(map[string]string{"serverName": desc.ServerName()})
	if err != nil {
		return Cluster{}, fmt.Errorf("unable to encode cluster request: %w", err)
	}
	endpoint := f.endpoints.clusterResolve(host)

	operation := func() (Cluster, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return Cluster{}, backoff.Permanent(util.NewConfigurationError("invalid cluster resolve endpoint", err))
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return Cluster{}, backoff.Permanent(err)
			}
			return Cluster{}, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Cluster{}, err
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return Cluster{}, fmt.Errorf("cluster resolve responded with status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			e := util.NewExecutionError(fmt.Sprintf("cluster resolve responded with status %d", resp.StatusCode), nil)
			e.ServerMessage = strings.TrimSpace(string(body))
			return Cluster{}, backoff.Permanent(e)
		}
		var c Cluster
		if err := json.Unmarshal(body, &c); err != nil {
			return Cluster{}, backoff.Permanent(util.NewExecutionError("unable to decode cluster resolve response", err))
		}
		if c.FQDN == "" {
			return Cluster{}, backoff.Permanent(util.NewExecutionError(fmt.Sprintf("no cluster found for server %q", desc.ServerName()), nil))
		}
		return c, nil
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     f.retryInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
	}
	c, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(f.retries))
	if err != nil {
		err = util.WrapContextError(ctx, "cluster resolve", err)
		if util.CategoryOf(err) == "" {
			err = util.NewExecutionError(fmt.Sprintf("unable to resolve cluster for %q", desc.DataSource()), err)
		}
		f.logger.WarnContext(ctx, fmt.Sprintf("cluster resolve for %q failed: %s", desc.DataSource(), err))
		return Cluster{}, err
	}
	f.logger.DebugContext(ctx, fmt.Sprintf("resolved %q to cluster %q (%s)", desc.DataSource(), c.FQDN, c.CoreServerName))
	return c, nil
}
