package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/people-tpu/service/config"
)

const serviceName = "people-tpu"

// ShutdownFn flushes pending spans and stops the provider.
type ShutdownFn func(context.Context) error

// Setup installs the global tracer provider for exporter and returns its
// shutdown function. With no exporter the global no-op provider stays in place.
func Setup(exporter string, w io.Writer) (ShutdownFn, error) {
	switch exporter {
	case "", config.TraceExporterNone:
		return func(context.Context) error { return nil }, nil

	case config.TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, xerrors.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	return nil, xerrors.Errorf("unknown trace exporter %q", exporter)
}
