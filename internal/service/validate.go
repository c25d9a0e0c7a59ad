package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fathima-sithara/messenger-service/internal/apperr"
)

// validate is shared; validator caches struct metadata and is safe for
// concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by the names clients send
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("handle", isHandle)
	return v
}

// isHandle accepts letters, digits, '_', '.' and '-'.
func isHandle(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

// checkInput validates in against its struct tags.
func checkInput(in any) error {
	return invalid(validate.Struct(in))
}

// checkField validates a single value; name is used in the message.
func checkField(name string, value any, tag string) error {
	err := validate.Var(value, tag)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return apperr.New(apperr.InvalidInput, fieldMessage(name, ve[0]))
	}
	return invalid(err)
}

// invalid maps validation failures to InvalidInput, one message for the
// first failing field.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return apperr.Wrap(apperr.InvalidInput, err, fieldMessage(ve[0].Field(), ve[0]))
	}
	return apperr.Wrap(apperr.InvalidInput, err, "invalid input")
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must not be empty", field)
		}
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "handle":
		return fmt.Sprintf("%s may only contain letters, digits, '_', '.' or '-'", field)
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
