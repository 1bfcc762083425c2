// Package validate checks request structs with go-playground/validator and
// converts failures into invalid_request API errors.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// get returns the shared validator. Field names in errors are taken from
// json tags so they match what clients send.
func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return instance
}

// Struct validates v. A nil error means v passed; otherwise the error is a
// *domain.APIError describing the first failing field.
func Struct(v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.ErrInvalidRequest("invalid request")
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.ErrInvalidRequest(fmt.Sprintf("%s is required", field)).
			WithCode(domain.ErrorCodeMissingField).WithParam(field)
	case "email":
		return domain.ErrInvalidRequest(fmt.Sprintf("%s must be a valid email address", field)).
			WithCode(domain.ErrorCodeInvalidField).WithParam(field)
	default:
		return domain.ErrInvalidRequest(fmt.Sprintf("%s failed %s validation", field, fe.Tag())).
			WithCode(domain.ErrorCodeInvalidField).WithParam(field)
	}
}
