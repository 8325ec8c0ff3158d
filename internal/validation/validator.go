package validation

import (
	"errors"
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// shared is safe for concurrent use; validator caches struct metadata.
var shared = New()

// New returns a configured validator with the custom tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// notblank rejects strings that are empty after trimming whitespace.
	if err := v.RegisterValidation("notblank", notBlank); err != nil {
		panic(fmt.Sprintf("register notblank: %v", err))
	}

	return v
}

func notBlank(fl validatorv10.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Struct validates s with the shared validator and converts failures into
// *Error values joined together.
func Struct(s interface{}) error {
	return FromValidator(shared.Struct(s))
}

// FromValidator converts validator errors into *Error values. Other errors are
// returned unchanged.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	errs := make([]error, 0, len(ve))
	for _, fe := range ve {
		errs = append(errs, &Error{Field: fe.Field(), Msg: messageFor(fe)})
	}
	return errors.Join(errs...)
}

func messageFor(fe validatorv10.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s cannot be empty", field)
	case "gt":
		if fe.Param() == "0" {
			return fmt.Sprintf("%s must be positive", field)
		}
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		if fe.Param() == "0" {
			return fmt.Sprintf("%s cannot be negative", field)
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fe.Error()
	}
}
