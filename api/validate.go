package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldMessages are the client-facing messages per request field.
var fieldMessages = map[string]string{
	"firstName":   "First name is required",
	"lastName":    "Last name is required",
	"email":       "Valid email is required",
	"password":    "Password must be at least 6 characters long",
	"verifyToken": "Token is required",
	"idToken":     "Token is required",
	"listId":      "List id is required",
	"id":          "Task id is required",
	"order":       "Order must be a non-negative integer",
}

// RequestValidator implements echo.Validator.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	// Registration cannot fail for a non-empty tag with a non-nil func.
	_ = v.RegisterValidation("order", func(fl validator.FieldLevel) bool {
		o, ok := fl.Field().Interface().(orderValue)
		if !ok {
			return false
		}
		_, valid := o.Int()
		return valid
	})
	return &RequestValidator{validate: v}
}

func (r *RequestValidator) Validate(i any) error {
	return r.validate.Struct(i)
}

// fieldErrors converts validator errors into the response shape. It returns
// nil for errors that are not validation failures.
func fieldErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = fe.Error()
		}
		out = append(out, fieldError{Field: fe.Field(), Message: msg})
	}
	return out
}
