package rbac

import (
	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that knows the module, action, role and
// status tags. The role tag accepts surrounding whitespace since request
// bodies are trimmed by Directory before use.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("module", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return Module(fl.Field().String()).Valid()
	})
	v.RegisterValidation("action", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return Action(fl.Field().String()).Valid()
	})
	v.RegisterValidation("role", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return Role(fl.Field().String()).normalize().Valid()
	})
	v.RegisterValidation("status", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return Status(fl.Field().String()).Valid()
	})
	return v
}
