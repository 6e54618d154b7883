package middleware

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderActorID carries the id of the stakeholder performing the request.
// Authentication happens upstream; this service trusts the gateway's header.
const HeaderActorID = "X-Actor-ID"

// Context stamps every request with a request id, echoed back in the response,
// and the acting stakeholder.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetActorID(ctx, strings.TrimSpace(req.Header.Get(HeaderActorID)))
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
