package common

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// FieldError describes a single rejected field in a VALIDATION_FAILED response.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Validator returns the shared validator. Field names are reported by their
// json tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate runs struct validation on v and converts failures into an
// AppError carrying one FieldError per violation.
func Validate(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(fe), Rule: fe.Tag(), Param: fe.Param()})
	}
	appErr := NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusUnprocessableEntity, err)
	appErr.Details = fields
	return appErr
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}
