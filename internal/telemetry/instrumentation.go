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

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	TracerName = "github.com/googleapis/tabular-toolbox/internal/telemetry"
	MetricName = "github.com/googleapis/tabular-toolbox/internal/telemetry"

	apiCountName     = "tabular.server.api.count"
	queryCountName   = "tabular.query.count"
	processCountName = "tabular.process.count"
	xmlaCountName    = "tabular.xmla.count"
	roleCountName    = "tabular.role.count"
	controlCountName = "tabular.control.count"
	tokenCountName   = "tabular.token.acquire.count"

	// StatusAttribute is attached to every counter increment.
	StatusAttribute = "tabular.operation.status"
	// NameAttribute identifies the source or route an increment belongs to.
	NameAttribute = "tabular.name"
)

// Instrumentation defines the telemetry instrumentation for the toolbox.
type Instrumentation struct {
	Tracer       trace.Tracer
	meter        metric.Meter
	APICall      metric.Int64Counter
	Query        metric.Int64Counter
	Process      metric.Int64Counter
	Xmla         metric.Int64Counter
	Role         metric.Int64Counter
	Control      metric.Int64Counter
	TokenAcquire metric.Int64Counter
}

func CreateTelemetryInstrumentation(versionString string) (*Instrumentation, error) {
	tracer := otel.Tracer(TracerName, trace.WithInstrumentationVersion(versionString))
	meter := otel.Meter(MetricName, metric.WithInstrumentationVersion(versionString))
	return newInstrumentation(tracer, meter)
}

// NewNoopInstrumentation returns instrumentation that records nothing. It is
// used by library callers and tests that run without an SDK.
func NewNoopInstrumentation() *Instrumentation {
	inst, err := newInstrumentation(
		tracenoop.NewTracerProvider().Tracer(TracerName),
		metricnoop.NewMeterProvider().Meter(MetricName),
	)
	if err != nil {
		panic(err)
	}
	return inst
}

func newInstrumentation(tracer trace.Tracer, meter metric.Meter) (*Instrumentation, error) {

	counters := []struct {
		name string
		desc string
		unit string
	}{
		{apiCountName, "Number of HTTP API calls.", "{call}"},
		{queryCountName, "Number of queries dispatched to a tabular server.", "{query}"},
		{processCountName, "Number of processing scripts executed.", "{script}"},
		{xmlaCountName, "Number of raw XMLA requests forwarded.", "{request}"},
		{roleCountName, "Number of role management operations.", "{operation}"},
		{controlCountName, "Number of control plane operations.", "{operation}"},
		{tokenCountName, "Number of access token acquisitions.", "{token}"},
	}
	inst := &Instrumentation{Tracer: tracer, meter: meter}
	targets := []*metric.Int64Counter{
		&inst.APICall, &inst.Query, &inst.Process, &inst.Xmla, &inst.Role, &inst.Control, &inst.TokenAcquire,
	}
	for i, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("unable to create %s metric: %w", c.name, err)
		}
		*targets[i] = counter
	}
	return inst, nil
}

// Record adds one to counter with the name and outcome of an operation. A nil
// counter is ignored so library code can run without telemetry.
func Record(ctx context.Context, counter metric.Int64Counter, name string, err error) {
	if counter == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	counter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(NameAttribute, name)),
		metric.WithAttributes(attribute.String(StatusAttribute, status)),
	)
}
