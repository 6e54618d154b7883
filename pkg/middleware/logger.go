package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/labstack/echo/v4"
)

// health and metrics routes are polled by the orchestrator and scraped by prometheus; they
// are logged at debug so request logs stay about provenance traffic.
func isHealthRoute(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/api/v1/health")
}

// Logger writes one line per request and records its latency by route.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			req, res := c.Request(), c.Response()
			route := c.Path()
			metrics.RecordHTTPRequest(req.Method, route, res.Status, elapsed)

			ctx := req.Context()
			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"actor_id":      context.GetActorID(ctx),
				"method":        req.Method,
				"route":         route,
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"response_time": elapsed,
				"response_size": strconv.FormatInt(res.Size, 10),
			})

			switch {
			case isHealthRoute(route):
				entry.Debug("Request")
			case res.Status >= 500:
				entry.Warn("Request failed")
			default:
				entry.Info("Request")
			}
			return nil
		}
	}
}
