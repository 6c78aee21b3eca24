// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry trace and metric providers
// used by a modgraph run and exports Prometheus metrics at shutdown.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "modgraph"

// Options configures Setup. Every sink is optional; with no sinks Setup
// installs nothing and spans stay on the global no-op provider.
type Options struct {
	// ServiceName defaults to DefaultServiceName.
	ServiceName string

	// TraceFile receives spans as JSON lines.
	TraceFile string

	// OTLPEndpoint is a host:port OTLP/gRPC collector. Connections are
	// insecure; the collector is expected on a trusted network.
	OTLPEndpoint string

	// MetricsFile receives Prometheus text exposition at shutdown.
	MetricsFile string

	// MetricsJSONFile receives OTel metric data as JSON at shutdown.
	MetricsJSONFile string

	// Registerer and Gatherer default to the Prometheus default registry,
	// which also holds the promauto metrics of the analysis packages.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Logger *slog.Logger
}

// Telemetry owns the providers installed by Setup.
//
// Thread Safety: Shutdown must be called once, after the last run.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	gatherer       prometheus.Gatherer
	metricsFile    string
	closers        []io.Closer
	logger         *slog.Logger
}

// Setup installs trace and metric providers for the configured sinks.
//
// Description:
//
//	A tracer provider is installed globally when TraceFile or OTLPEndpoint
//	is set. A meter provider is installed globally when MetricsFile or
//	MetricsJSONFile is set; its instruments are bridged into the Prometheus
//	registry so the textfile export carries both promauto and OTel metrics.
//
// Outputs:
//
//	*Telemetry - Call Shutdown to flush every sink.
//	error - Non-nil if a sink could not be created. Sinks created before
//	        the failure are shut down.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	t := &Telemetry{
		gatherer:    opts.Gatherer,
		metricsFile: opts.MetricsFile,
		logger:      opts.Logger,
	}
	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	if err := t.setupTracing(ctx, opts, res); err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	if err := t.setupMetrics(opts, res); err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	return t, nil
}

func (t *Telemetry) setupTracing(ctx context.Context, opts Options, res *resource.Resource) error {
	var tpOpts []sdktrace.TracerProviderOption

	if opts.TraceFile != "" {
		f, err := os.Create(opts.TraceFile)
		if err != nil {
			return fmt.Errorf("creating trace file: %w", err)
		}
		t.closers = append(t.closers, f)
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			return fmt.Errorf("creating trace file exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exp))
	}

	if opts.OTLPEndpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}

	if len(tpOpts) == 0 {
		return nil
	}
	tpOpts = append(tpOpts, sdktrace.WithResource(res))
	t.tracerProvider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(t.tracerProvider)
	t.logger.Debug("tracing enabled",
		slog.String("trace_file", opts.TraceFile),
		slog.String("otlp_endpoint", opts.OTLPEndpoint),
	)
	return nil
}

func (t *Telemetry) setupMetrics(opts Options, res *resource.Resource) error {
	if opts.MetricsFile == "" && opts.MetricsJSONFile == "" {
		return nil
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.MetricsFile != "" {
		exp, err := otelprom.New(otelprom.WithRegisterer(opts.Registerer))
		if err != nil {
			return fmt.Errorf("creating prometheus bridge: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(exp))
	}

	if opts.MetricsJSONFile != "" {
		f, err := os.Create(opts.MetricsJSONFile)
		if err != nil {
			return fmt.Errorf("creating metrics json file: %w", err)
		}
		t.closers = append(t.closers, f)
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(f))
		if err != nil {
			return fmt.Errorf("creating metrics json exporter: %w", err)
		}
		// The periodic reader collects once more on shutdown, so a single
		// short run still produces output.
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	t.meterProvider = sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(t.meterProvider)
	return nil
}

// Meter returns a meter from the installed provider, or a no-op meter when
// metrics are disabled.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return t.meterProvider.Meter(name)
}

// TracingEnabled reports whether a tracer provider was installed.
func (t *Telemetry) TracingEnabled() bool {
	return t != nil && t.tracerProvider != nil
}

// Shutdown flushes spans and metrics, writes the Prometheus textfile and
// closes every file opened by Setup. All steps run; their errors are joined.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		// Textfile first: the bridge reader stops serving after shutdown.
		if t.metricsFile != "" {
			if err := prometheus.WriteToTextfile(t.metricsFile, t.gatherer); err != nil {
				errs = append(errs, fmt.Errorf("writing metrics file: %w", err))
			}
		}
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.closers = nil

	return errors.Join(errs...)
}
