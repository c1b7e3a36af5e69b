package obs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig controls the OpenTelemetry meter provider. Prometheus stays the
// scrape surface; this pushes the OTel instruments (refund.issued.amount) to a
// collector.
type MeterConfig struct {
	ServiceName string
	Version     string
	Environment string
	Exporter    string
	Endpoint    string
	Insecure    bool
	Interval    time.Duration
}

// InitMeter installs the global meter provider and returns its shutdown function.
func InitMeter(ctx context.Context, cfg MeterConfig) (func(context.Context) error, error) {
	var opts []otlpmetrichttp.Option
	switch kind := strings.ToLower(strings.TrimSpace(cfg.Exporter)); kind {
	case "", "none", "noop":
		return func(context.Context) error { return nil }, nil
	case "otlp":
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", kind)
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg.ServiceName, cfg.Version, cfg.Environment)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
