package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	creditDecisions  metric.Int64Counter
	journalEntries   metric.Int64Counter
	anomalies        metric.Int64Counter
	idempotencyHits  metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	reconcileDrift   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditcore"
	}
	meter := provider.Meter(name)

	creditDecisions, err := meter.Int64Counter("creditcore_credit_decisions_total")
	if err != nil {
		return nil, err
	}
	journalEntries, err := meter.Int64Counter("creditcore_journal_entries_total")
	if err != nil {
		return nil, err
	}
	anomalies, err := meter.Int64Counter("creditcore_anomalies_total")
	if err != nil {
		return nil, err
	}
	idempotencyHits, err := meter.Int64Counter("creditcore_idempotency_replays_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("creditcore_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	reconcileDrift, err := meter.Int64Counter("creditcore_reconcile_drift_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditDecisions: creditDecisions,
		journalEntries:  journalEntries,
		anomalies:       anomalies,
		idempotencyHits: idempotencyHits,
		rateLimitDenied: rateLimitDenied,
		reconcileDrift:  reconcileDrift,
	}, nil
}

// RecordCreditDecision counts Reserve/Release outcomes by decision code.
func (m *Metrics) RecordCreditDecision(ctx context.Context, operation, code string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("code", strings.TrimSpace(code)),
	)
	m.creditDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJournalEntry counts appended journal rows by kind.
func (m *Metrics) RecordJournalEntry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.journalEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAnomaly counts invariant violations (over-release clamps, drift).
func (m *Metrics) RecordAnomaly(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.anomalies.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIdempotencyReplay counts requests served from the idempotency store.
func (m *Metrics) RecordIdempotencyReplay(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.idempotencyHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts rate limit rejections.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileDrift counts customers whose cached outstanding diverged
// from the journal sum.
func (m *Metrics) RecordReconcileDrift(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconcileDrift.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation": {},
	"code":      {},
	"kind":      {},
	"reason":    {},
	"endpoint":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
