package httpmiddleware

import (
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Instrument wraps the handler chain with OpenTelemetry HTTP tracing and
// metrics under the given operation name.
func Instrument(operation string, m *app.Telemetry) Middleware {
	return Middleware(otelhttp.NewMiddleware(operation,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	))
}
