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

// Package azureas manages the lifecycle of Azure Analysis Services servers
// through the Azure Resource Manager.
package azureas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/analysisservices/armanalysisservices"
	"github.com/googleapis/tabular-toolbox/internal/connstr"
	"github.com/googleapis/tabular-toolbox/internal/log"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultPollFrequency is how often long-running operations are polled.
const DefaultPollFrequency = 10 * time.Second

// ServersAPI is the subset of the Analysis Services resource provider used by
// the Controller. Long-running operations return once they are done.
type ServersAPI interface {
	Suspend(ctx context.Context, resourceGroup, server string) error
	Resume(ctx context.Context, resourceGroup, server string) error
	Update(ctx context.Context, resourceGroup, server string, params armanalysisservices.ServerUpdateParameters) (armanalysisservices.Server, error)
	GetDetails(ctx context.Context, resourceGroup, server string) (armanalysisservices.Server, error)
}

// NewServersAPI returns a ServersAPI backed by the resource manager SDK.
func NewServersAPI(subscriptionID string, cred azcore.TokenCredential, opts *arm.ClientOptions, pollFrequency time.Duration) (ServersAPI, error) {
	client, err := armanalysisservices.NewServersClient(subscriptionID, cred, opts)
	if err != nil {
		return nil, err
	}
	return &serversClient{client: client, poll: &runtime.PollUntilDoneOptions{Frequency: pollFrequency}}, nil
}

type serversClient struct {
	client *armanalysisservices.ServersClient
	poll   *runtime.PollUntilDoneOptions
}

func (c *serversClient) Suspend(ctx context.Context, resourceGroup, server string) error {
	poller, err := c.client.BeginSuspend(ctx, resourceGroup, server, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, c.poll)
	return err
}

func (c *serversClient) Resume(ctx context.Context, resourceGroup, server string) error {
	poller, err := c.client.BeginResume(ctx, resourceGroup, server, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, c.poll)
	return err
}

func (c *serversClient) Update(ctx context.Context, resourceGroup, server string, params armanalysisservices.ServerUpdateParameters) (armanalysisservices.Server, error) {
	poller, err := c.client.BeginUpdate(ctx, resourceGroup, server, params, nil)
	if err != nil {
		return armanalysisservices.Server{}, err
	}
	resp, err := poller.PollUntilDone(ctx, c.poll)
	if err != nil {
		return armanalysisservices.Server{}, err
	}
	return resp.Server, nil
}

func (c *serversClient) GetDetails(ctx context.Context, resourceGroup, server string) (armanalysisservices.Server, error) {
	resp, err := c.client.GetDetails(ctx, resourceGroup, server, nil)
	if err != nil {
		return armanalysisservices.Server{}, err
	}
	return resp.Server, nil
}

// Server is the management view of a server.
type Server struct {
	Name              string   `json:"name"`
	FullName          string   `json:"fullName,omitempty"`
	Location          string   `json:"location,omitempty"`
	Tier              string   `json:"tier,omitempty"`
	SKU               string   `json:"sku,omitempty"`
	Capacity          int32    `json:"capacity,omitempty"`
	State             string   `json:"state,omitempty"`
	ProvisioningState string   `json:"provisioningState,omitempty"`
	Administrators    []string `json:"administrators,omitempty"`
}

// IsOnline reports whether the server is running.
func (s Server) IsOnline() bool {
	return s.State == string(armanalysisservices.StateSucceeded)
}

func serverFrom(s armanalysisservices.Server) Server {
	out := Server{
		Name:     deref(s.Name),
		Location: deref(s.Location),
	}
	sku := s.SKU
	if p := s.Properties; p != nil {
		out.FullName = deref(p.ServerFullName)
		if p.State != nil {
			out.State = string(*p.State)
		}
		if p.ProvisioningState != nil {
			out.ProvisioningState = string(*p.ProvisioningState)
		}
		if p.AsAdministrators != nil {
			for _, m := range p.AsAdministrators.Members {
				if m != nil {
					out.Administrators = append(out.Administrators, *m)
				}
			}
		}
		if sku == nil {
			sku = p.SKU
		}
	}
	if sku != nil {
		out.SKU = deref(sku.Name)
		if sku.Tier != nil {
			out.Tier = string(*sku.Tier)
		}
		if sku.Capacity != nil {
			out.Capacity = *sku.Capacity
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Controller runs control-plane operations on one server.
type Controller struct {
	api           ServersAPI
	resourceGroup string
	server        string
	logger        log.Logger
	instr         *telemetry.Instrumentation
}

type options struct {
	api           ServersAPI
	clientOptions *arm.ClientOptions
	pollFrequency time.Duration
	logger        log.Logger
	instr         *telemetry.Instrumentation
}

// Option configures a Controller.
type Option func(*options)

// WithServersAPI replaces the resource manager client.
func WithServersAPI(api ServersAPI) Option {
	return func(o *options) { o.api = api }
}

func WithClientOptions(opts *arm.ClientOptions) Option {
	return func(o *options) { o.clientOptions = opts }
}

func WithPollFrequency(d time.Duration) Option {
	return func(o *options) { o.pollFrequency = d }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithInstrumentation(i *telemetry.Instrumentation) Option {
	return func(o *options) { o.instr = i }
}

// NewController returns a controller for the server desc points at. The
// target must be a cloud server whose cloud info names a subscription and a
// resource group.
func NewController(desc connstr.Descriptor, cred azcore.TokenCredential, opts ...Option) (*Controller, error) {
	if !desc.IsCloud() {
		return nil, util.NewConfigurationError("control-plane operations require a cloud server", nil)
	}
	info := desc.Cloud()
	if info == nil || info.SubscriptionID == "" || info.ResourceGroupName == "" {
		return nil, util.NewConfigurationError("control-plane operations require subscriptionId and resourceGroupName", nil)
	}
	o := options{
		pollFrequency: DefaultPollFrequency,
		logger:        log.NewDiscardLogger(),
		instr:         telemetry.NewNoopInstrumentation(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.api == nil {
		clientOptions := o.clientOptions
		if clientOptions == nil {
			clientOptions = &arm.ClientOptions{ClientOptions: azcore.ClientOptions{Cloud: info.Cloud.Configuration()}}
		}
		api, err := NewServersAPI(info.SubscriptionID, cred, clientOptions, o.pollFrequency)
		if err != nil {
			return nil, util.NewConfigurationError("unable to create resource manager client", err)
		}
		o.api = api
	}
	return &Controller{
		api:           o.api,
		resourceGroup: info.ResourceGroupName,
		server:        desc.ServerName(),
		logger:        o.logger,
		instr:         o.instr,
	}, nil
}

// ServerName returns the name of the managed server.
func (c *Controller) ServerName() string { return c.server }

func (c *Controller) run(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	if err := util.CheckContext(ctx, op); err != nil {
		return err
	}
	ctx, span := c.instr.Tracer.Start(ctx, "azureas/"+op)
	span.SetAttributes(attribute.String("azureas.server", c.server))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		telemetry.Record(ctx, c.instr.Control, c.server, err)
	}()
	c.logger.DebugContext(ctx, fmt.Sprintf("%s %q in %q", op, c.server, c.resourceGroup))
	if err := fn(ctx); err != nil {
		return wrapError(ctx, op, err)
	}
	return nil
}

func wrapError(ctx context.Context, op string, err error) error {
	if wrapped := util.WrapContextError(ctx, op, err); util.CategoryOf(wrapped) != "" {
		return wrapped
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return util.NewAuthenticationError(op+" was rejected", err)
		case http.StatusConflict:
			return util.NewStateError(op+" conflicts with the server state", err)
		}
	}
	return util.NewExecutionError(op+" failed", err)
}

// Details returns the current state of the server.
func (c *Controller) Details(ctx context.Context) (Server, error) {
	var out Server
	err := c.run(ctx, "details", func(ctx context.Context) error {
		s, err := c.api.GetDetails(ctx, c.resourceGroup, c.server)
		if err != nil {
			return err
		}
		out = serverFrom(s)
		return nil
	})
	return out, err
}

// Pause suspends the server and reports whether it ended up paused.
func (c *Controller) Pause(ctx context.Context) (bool, error) {
	return c.transition(ctx, "pause", c.api.Suspend, armanalysisservices.StatePaused)
}

// Resume starts the server and reports whether it ended up running.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	return c.transition(ctx, "resume", c.api.Resume, armanalysisservices.StateSucceeded)
}

func (c *Controller) transition(ctx context.Context, op string, fn func(context.Context, string, string) error, want armanalysisservices.State) (bool, error) {
	var reached bool
	err := c.run(ctx, op, func(ctx context.Context) error {
		if err := fn(ctx, c.resourceGroup, c.server); err != nil {
			return err
		}
		s, err := c.api.GetDetails(ctx, c.resourceGroup, c.server)
		if err != nil {
			return err
		}
		reached = s.Properties != nil && s.Properties.State != nil && *s.Properties.State == want
		return nil
	})
	if err != nil {
		return false, err
	}
	c.logger.InfoContext(ctx, fmt.Sprintf("%s %q finished, in requested state: %t", op, c.server, reached))
	return reached, nil
}

// Scale changes the SKU and replica capacity of the server. A capacity of
// zero keeps the current one.
func (c *Controller) Scale(ctx context.Context, sku string, capacity int32) (Server, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return Server{}, util.NewConfigurationError("sku must not be empty", nil)
	}
	if capacity < 0 {
		return Server{}, util.NewConfigurationError(fmt.Sprintf("invalid capacity %d", capacity), nil)
	}
	params := armanalysisservices.ServerUpdateParameters{
		SKU: &armanalysisservices.ResourceSKU{Name: to.Ptr(sku), Tier: tierOf(sku)},
	}
	if capacity > 0 {
		params.SKU.Capacity = to.Ptr(capacity)
	}
	var out Server
	err := c.run(ctx, "scale", func(ctx context.Context) error {
		s, err := c.api.Update(ctx, c.resourceGroup, c.server, params)
		if err != nil {
			return err
		}
		out = serverFrom(s)
		return nil
	})
	return out, err
}

// tierOf derives the pricing tier from a SKU name such as S1, B2 or D1.
func tierOf(sku string) *armanalysisservices.SKUTier {
	switch sku[0] {
	case 'B':
		return to.Ptr(armanalysisservices.SKUTierBasic)
	case 'D':
		return to.Ptr(armanalysisservices.SKUTierDevelopment)
	case 'S':
		return to.Ptr(armanalysisservices.SKUTierStandard)
	}
	return nil
}

// PauseSync is Pause without a caller context.
func (c *Controller) PauseSync() (bool, error) { return c.Pause(context.Background()) }

// ResumeSync is Resume without a caller context.
func (c *Controller) ResumeSync() (bool, error) { return c.Resume(context.Background()) }

// ScaleSync is Scale without a caller context.
func (c *Controller) ScaleSync(sku string, capacity int32) (Server, error) {
	return c.Scale(context.Background(), sku, capacity)
}

// DetailsSync is Details without a caller context.
func (c *Controller) DetailsSync() (Server, error) { return c.Details(context.Background()) }
