package utils

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// decimals validate as numbers, so gt=0 and friends work on them
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// scale=N rejects decimals with more than N places, since the ledger and
	// the mirror columns hold fixed precision
	if err := v.RegisterValidation("scale", validateScale); err != nil {
		panic(err)
	}

	// report json names rather than Go field names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return v
}

// validateScale reads the original decimal from the parent struct, because the
// custom type func above hands rules a float64.
func validateScale(fl validator.FieldLevel) bool {
	places, err := strconv.ParseInt(fl.Param(), 10, 32)
	if err != nil {
		return false
	}

	field := fl.Parent()
	if field.Kind() == reflect.Ptr {
		field = field.Elem()
	}
	field = field.FieldByName(fl.StructFieldName())
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return true
		}
		field = field.Elem()
	}

	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return FitsScale(d, int32(places))
}

// FitsScale reports whether d survives rounding to places decimal places unchanged.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// Validate checks struct tags and returns a ValidationFailed error listing every failed field.
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorToString(err)
	}
	return value, nil
}

func ValidationErrorToString(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.ValidationFailed("%s", err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), fe.Tag()))
	}
	return apperrors.ValidationFailed("%s", strings.Join(msgs, "; "))
}
