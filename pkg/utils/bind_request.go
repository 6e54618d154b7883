package utils

import (
	"errors"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/labstack/echo/v4"
)

// BindRequest binds path params, query and JSON body into T, then validates it.
// Binding failures surface as validation errors rather than echo's 400 so the
// response carries the same error kind as a failed rule.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return v, apperrors.ValidationFailed("invalid request: %v", httpErr.Message)
		}
		return v, apperrors.ValidationFailed("invalid request: %v", err)
	}

	return Validate(v)
}
