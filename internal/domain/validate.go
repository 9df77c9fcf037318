package domain

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// ValidateRequest checks a Request's structural contract (required ids,
// recognized preferred worker) before any routing or dispatch work happens.
// Worker-specific validation (content length against the worker's context
// window) happens later, once the request has been routed.
func ValidateRequest(req Request) error {
	if err := getValidator().Struct(req); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			return &ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: "failed " + fe.Tag() + " validation",
			}
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	return nil
}
