package middleware

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var nationalIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// ValidNationalID reports whether s is exactly 12 digits.
func ValidNationalID(s string) bool {
	return nationalIDPattern.MatchString(s)
}

// RequestValidator adapts go-playground/validator to echo.Validator. Field
// names in errors use the json tag.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("nationalid", func(fl validator.FieldLevel) bool {
		return ValidNationalID(fl.Field().String())
	})
	return &RequestValidator{validate: v}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}
