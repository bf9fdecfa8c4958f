package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry meter provider.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "cortexcompanion".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string
}

// InitProvider registers a global [sdkmetric.MeterProvider] backed by a
// Prometheus exporter and returns instruments created on it together with a
// shutdown function. Serve [Handler] to expose the scrape endpoint.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Metrics, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cortexcompanion"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	return met, mp.Shutdown, nil
}

// Handler returns the Prometheus scrape handler for the default registry the
// exporter writes into.
func Handler() http.Handler {
	return promhttp.Handler()
}
