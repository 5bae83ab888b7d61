package o11y

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// SetupLogging returns a slog handler exporting records via OTLP/HTTP when
// OTEL_EXPORTER_OTLP_LOGS_ENDPOINT is set, nil otherwise. The returned
// function flushes and stops the exporter.
func SetupLogging(ctx context.Context) (slog.Handler, func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT") == "" {
		return nil, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlploghttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		return nil, nil, err
	}

	provider := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	)

	return otelslog.NewHandler(TracerName, otelslog.WithLoggerProvider(provider)), provider.Shutdown, nil
}
