package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medclinic/clinic/internal/platform/metrics"
)

// Metrics records request counts and latency by route template, so that
// /api/appointments/:id is one series regardless of the id.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
