package monitoring

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mpesa-stk-service/logging"
)

const instrumentationName = "mpesa-stk-service"

var (
	// OpenTelemetry metrics
	STKPushCounter       metric.Int64Counter
	STKPushAmount        metric.Float64Histogram
	CallbackCounter      metric.Int64Counter
	OTPCounter           metric.Int64Counter
	ExternalCallDuration metric.Float64Histogram
	HTTPServerDuration   metric.Float64Histogram
)

// Instruments start out bound to the global meter provider, which forwards to
// the real provider once InitMeter installs it.
func init() {
	if err := registerInstruments(otel.Meter(instrumentationName)); err != nil {
		otel.Handle(err)
	}
}

// InitTracer initializes OpenTelemetry tracing. With an empty endpoint spans
// are recorded but not exported.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	ctx := context.Background()

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	tracer := tp.Tracer(serviceName)

	logging.Info("Tracing initialized",
		zap.String("service_name", serviceName),
		zap.Bool("otlp_export", endpoint != ""),
	)

	return tp, tracer, nil
}

// InitMeter initializes OpenTelemetry metrics. Every measurement is exposed
// through the returned Prometheus handler and, when endpoint is set, also
// pushed over OTLP.
func InitMeter(serviceName, endpoint string) (*sdkmetric.MeterProvider, http.Handler, error) {
	ctx := context.Background()

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	}

	if endpoint != "" {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	if err := registerInstruments(mp.Meter(instrumentationName)); err != nil {
		return nil, nil, err
	}

	logging.Info("Metrics initialized",
		zap.String("endpoint", endpoint),
		zap.Bool("otlp_export", endpoint != ""),
	)

	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
}

func registerInstruments(meter metric.Meter) error {
	var err error

	STKPushCounter, err = meter.Int64Counter(
		"mpesa_stk_push_total",
		metric.WithDescription("Total number of STK push requests relayed to the provider"),
	)
	if err != nil {
		return err
	}

	STKPushAmount, err = meter.Float64Histogram(
		"mpesa_stk_push_amount",
		metric.WithDescription("Amounts requested through STK push"),
	)
	if err != nil {
		return err
	}

	CallbackCounter, err = meter.Int64Counter(
		"mpesa_callbacks_total",
		metric.WithDescription("Total number of payment result callbacks received"),
	)
	if err != nil {
		return err
	}

	OTPCounter, err = meter.Int64Counter(
		"otp_requests_total",
		metric.WithDescription("Total number of OTP send and verify requests"),
	)
	if err != nil {
		return err
	}

	ExternalCallDuration, err = meter.Float64Histogram(
		"external_provider_duration_seconds",
		metric.WithDescription("Duration of external provider calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	HTTPServerDuration, err = meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return err
}
