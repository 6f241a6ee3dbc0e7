// Copyright 2025 The Wastepro Authors
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

// Package observability wires metrics and tracing for the service agents:
// an OpenTelemetry meter exported through Prometheus, an optional OTLP
// tracer, and the ops HTTP endpoint serving /metrics and /healthz.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/wastepro/wastepro/pkg/config"
)

// Provider owns the telemetry SDKs for one process. Disabled sections fall
// back to noop implementations, so callers instrument unconditionally.
type Provider struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	shutdowns []func(context.Context) error
}

// NewProvider builds the telemetry stack from the [observability] table.
func NewProvider(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	p := &Provider{
		meterProvider:  noopmetric.NewMeterProvider(),
		tracerProvider: nooptrace.NewTracerProvider(),
	}

	if cfg.MetricsEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		p.meterProvider = mp
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
	}

	if cfg.TracingEnabled {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		)
		if err != nil {
			return nil, fmt.Errorf("create trace resource: %w", err)
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
			sdktrace.WithResource(res),
		)
		p.tracerProvider = tp
		p.shutdowns = append(p.shutdowns, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	return p, nil
}

// Meter returns the process meter for instrument creation.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter("wastepro")
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// Shutdown flushes and stops the SDKs.
func (p *Provider) Shutdown(ctx context.Context) error {
	var first error
	for _, stop := range p.shutdowns {
		if err := stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
