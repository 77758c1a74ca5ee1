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

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/analysisservices/armanalysisservices"
	"github.com/go-chi/chi/v5"
	"github.com/googleapis/tabular-toolbox/internal/azureas"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/server/resources"
	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/sources"
	"github.com/googleapis/tabular-toolbox/internal/tabular"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/testutils"
)

// fakeVersionString is used as a temporary version string in tests
const fakeVersionString = "0.0.0"

// testSource is a tabular source backed by an in-process client.
type testSource struct {
	typ    string
	client *tabular.Client
}

func (s *testSource) SourceType() string             { return s.typ }
func (s *testSource) ToConfig() sources.SourceConfig { return nil }
func (s *testSource) Client() *tabular.Client        { return s.client }

// otherSource is a source that does not talk to a tabular server.
type otherSource struct{}

func (otherSource) SourceType() string             { return "redis" }
func (otherSource) ToConfig() sources.SourceConfig { return nil }

type route struct {
	match string
	resp  string
}

// xmlaRoutes answers every request whose statement or request type contains
// match with resp. Anything else is an XMLA fault.
func xmlaRoutes(routes ...route) testutils.XMLAHandler {
	return func(req testutils.XMLARequest) (int, string) {
		if req.Has("EndSession") || req.Has("Cancel") {
			return http.StatusOK, testutils.EmptyResponse("")
		}
		text := req.Statement() + req.RequestType()
		for _, r := range routes {
			if strings.Contains(text, r.match) {
				return http.StatusOK, r.resp
			}
		}
		return http.StatusInternalServerError, testutils.FaultResponse("3238002695", "unexpected request")
	}
}

func newOnPremSource(t *testing.T, routes ...route) (*testSource, *testutils.XMLAServer) {
	t.Helper()
	srv := testutils.NewXMLAServer(xmlaRoutes(routes...))
	t.Cleanup(srv.Close)
	desc, err := connstr.Configure("Data Source="+srv.URL, nil)
	if err != nil {
		t.Fatalf("unable to configure descriptor: %s", err)
	}
	f := session.NewFactory(nil)
	t.Cleanup(f.Close)
	c := tabular.NewClient(desc, f, tabular.WithName("olap"))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &testSource{typ: "analysis-services", client: c}, srv
}

// fakeServers is an in-memory Analysis Services resource provider.
type fakeServers struct {
	mu    sync.Mutex
	state armanalysisservices.State
	sku   armanalysisservices.ResourceSKU
	calls []string
}

func newFakeServers(sku string) *fakeServers {
	return &fakeServers{
		state: armanalysisservices.StateSucceeded,
		sku:   armanalysisservices.ResourceSKU{Name: to.Ptr(sku)},
	}
}

func (f *fakeServers) Suspend(_ context.Context, rg, server string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "suspend "+rg+"/"+server)
	f.state = armanalysisservices.StatePaused
	return nil
}

func (f *fakeServers) Resume(_ context.Context, rg, server string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "resume "+rg+"/"+server)
	f.state = armanalysisservices.StateSucceeded
	return nil
}

func (f *fakeServers) Update(_ context.Context, rg, server string, params armanalysisservices.ServerUpdateParameters) (armanalysisservices.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update "+rg+"/"+server)
	if params.SKU != nil {
		f.sku = *params.SKU
	}
	return f.server(server), nil
}

func (f *fakeServers) GetDetails(_ context.Context, rg, server string) (armanalysisservices.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "get "+rg+"/"+server)
	return f.server(server), nil
}

func (f *fakeServers) server(name string) armanalysisservices.Server {
	sku := f.sku
	return armanalysisservices.Server{
		Name:     to.Ptr(name),
		Location: to.Ptr("West US"),
		SKU:      &sku,
		Properties: &armanalysisservices.ServerProperties{
			State: to.Ptr(f.state),
		},
	}
}

func newCloudSource(t *testing.T, fake *fakeServers) *testSource {
	t.Helper()
	info := &connstr.CloudResourceInfo{TenantID: "tenant", SubscriptionID: "sub", ResourceGroupName: "rg"}
	desc, err := connstr.Configure("Data Source=asazure://westus.asazure.windows.net/myserver", info)
	if err != nil {
		t.Fatalf("unable to configure descriptor: %s", err)
	}
	ctrl, err := azureas.NewController(desc, nil, azureas.WithServersAPI(fake))
	if err != nil {
		t.Fatalf("unable to create controller: %s", err)
	}
	f := session.NewFactory(nil)
	t.Cleanup(f.Close)
	c := tabular.NewClient(desc, f, tabular.WithName("aas"), tabular.WithController(ctrl))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &testSource{typ: "analysis-services", client: c}
}

// setUpServer creates a server over sourcesMap and returns the named router.
func setUpServer(t *testing.T, router string, sourcesMap map[string]sources.Source) chi.Router {
	t.Helper()
	server := Server{
		version:         fakeVersionString,
		logger:          log.NewDiscardLogger(),
		instrumentation: telemetry.NewNoopInstrumentation(),
		ResourceMgr:     resources.NewResourceManager(sourcesMap),
	}

	var (
		r   chi.Router
		err error
	)
	switch router {
	case "api":
		r, err = apiRouter(&server)
	case "xmla":
		r, err = xmlaRouter(&server)
	default:
		t.Fatalf("unknown router %q", router)
	}
	if err != nil {
		t.Fatalf("unable to initialize %s router: %s", router, err)
	}
	return r
}

func runServer(r chi.Router, tls bool) *httptest.Server {
	var ts *httptest.Server
	if tls {
		ts = httptest.NewTLSServer(r)
	} else {
		ts = httptest.NewServer(r)
	}
	return ts
}

func runRequest(ts *httptest.Server, method, path string, body io.Reader, header map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to read request body: %w", err)
	}

	return resp, respBody, nil
}
