package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request, continuing any W3C trace context
// sent by the caller.
func Tracing(serviceName string) echo.MiddlewareFunc {
	tracer := otel.Tracer(serviceName)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			route := c.Path()
			ctx, span := tracer.Start(ctx, req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("url.path", req.URL.Path),
					attribute.String("user_agent.original", req.UserAgent()),
				))
			defer span.End()

			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			status := statusOf(c, err)
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if role, ok := c.Get("role").(string); ok {
				span.SetAttributes(attribute.String("clinic.role", role))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, "server error")
				if err != nil {
					span.RecordError(err)
				}
			}
			return err
		}
	}
}
