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

package tabular

import (
	"context"
	"fmt"

	"github.com/googleapis/tabular-toolbox/internal/session"
	"github.com/googleapis/tabular-toolbox/internal/telemetry"
	"github.com/googleapis/tabular-toolbox/internal/util"
	"github.com/googleapis/tabular-toolbox/internal/xmla"
	"go.opentelemetry.io/otel/codes"
)

// XmlaRequest is a raw XMLA envelope forwarded to the server.
type XmlaRequest struct {
	Body              string
	EffectiveUserName string
}

// SendXMLA forwards a raw XMLA request and returns the raw response.
// Drillthrough responses have their rows realigned with the schema.
func (c *Client) SendXMLA(ctx context.Context, req XmlaRequest) (_ string, err error) {
	if err := util.CheckContext(ctx, "send xmla"); err != nil {
		return "", err
	}
	ctx, span := c.instr.Tracer.Start(ctx, "tabular/xmla")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		telemetry.Record(ctx, c.instr.Xmla, c.name, err)
	}()

	body := req.Body
	if req.EffectiveUserName != "" {
		if body, err = xmla.ApplyEffectiveUser(body, req.EffectiveUserName); err != nil {
			return "", util.NewConfigurationError("malformed xmla request", err)
		}
	}
	drillthrough := xmla.IsDrillthroughRequest(body)
	if drillthrough {
		body = xmla.RewriteDrillthroughRequest(body)
	}

	var resp string
	if c.desc.IsCloud() {
		resp, err = c.sendCloud(ctx, body)
	} else {
		resp, err = c.sendOnPrem(ctx, body)
	}
	if err != nil {
		return "", err
	}
	if drillthrough {
		realigned, err := xmla.RealignDrillthroughResponse(resp)
		if err != nil {
			c.logger.WarnContext(ctx, fmt.Sprintf("unable to realign drillthrough response: %s", err))
			return resp, nil
		}
		return realigned, nil
	}
	return resp, nil
}

func (c *Client) sendCloud(ctx context.Context, body string) (string, error) {
	s, err := c.open(ctx, nil)
	if err != nil {
		return "", err
	}
	defer s.Close(ctx)
	resp, err := s.SendRaw(ctx, []byte(body))
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// sendOnPrem sends body over the shared management handle, connecting it on
// first use. Only a fault answered by the server leaves the handle in use;
// after any other failure, cancellation included, the exchange may have been
// abandoned midway and the next request reconnects.
func (c *Client) sendOnPrem(ctx context.Context, body string) (string, error) {
	h, err := c.sharedHandle(ctx)
	if err != nil {
		return "", err
	}
	resp, err := h.SendXMLA(ctx, body)
	if err != nil && util.CategoryOf(err) != util.CategoryExecution {
		c.dropHandle(ctx, h)
	}
	return resp, err
}

func (c *Client) sharedHandle(ctx context.Context) (*session.ServerHandle, error) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()
	if c.handle != nil {
		return c.handle, nil
	}
	h, err := c.factory.ServerHandle(ctx, c.desc, true)
	if err != nil {
		return nil, err
	}
	c.handle = h
	return h, nil
}

func (c *Client) dropHandle(ctx context.Context, h *session.ServerHandle) {
	c.handleMu.Lock()
	if c.handle != h {
		c.handleMu.Unlock()
		return
	}
	c.handle = nil
	c.handleMu.Unlock()
	if err := h.Close(context.WithoutCancel(ctx)); err != nil {
		c.logger.DebugContext(ctx, fmt.Sprintf("unable to close management handle: %s", err))
	}
}
