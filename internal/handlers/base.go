// Package handlers exposes the batch and stakeholder services over HTTP.
package handlers

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ParseUUID reads a path parameter as a UUID, answering 400 when it is not one.
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		if raw == "" {
			return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s is required", param)
		}
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s %q is not a valid UUID", param, raw)
	}
	return id, nil
}

// GetActorID returns the stakeholder acting on the request. Every mutating
// route and the owner listing need one; a missing or malformed header is 401.
func GetActorID(c echo.Context) (uuid.UUID, error) {
	raw := appctx.GetActorID(c.Request().Context())
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID is not a valid stakeholder id")
	}
	return id, nil
}

func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}
