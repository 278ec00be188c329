package validation

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"unicode"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// MinPhoneDigits is the minimum number of digits in a phone number.
const MinPhoneDigits = 10

// New returns a validator with the custom tags used by request and domain
// structs registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	_ = v.RegisterValidation("phone", validatePhone)
	return v
}

// validatePhone accepts digits with optional separators and a leading '+'.
func validatePhone(fl validatorv10.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	s = strings.TrimPrefix(s, "+")
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= MinPhoneDigits
}

var (
	defaultOnce sync.Once
	defaultV    *validatorv10.Validate
)

// Default returns a shared validator. validator.Validate is safe for
// concurrent use once configured.
func Default() *validatorv10.Validate {
	defaultOnce.Do(func() { defaultV = New() })
	return defaultV
}

// Struct validates s with the default validator and reports failures as a
// validation error listing the offending fields.
func Struct(s any) error {
	err := Default().Struct(s)
	if err == nil {
		return nil
	}
	fields := validationErrorsToMap(err)
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    "validation_failed",
		Message: "invalid fields: " + strings.Join(names, ", "),
		Err:     err,
	}
}

// Fields extracts the per-field messages from an error returned by Struct.
func Fields(err error) map[string]string {
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		return validationErrorsToMap(ve)
	}
	return nil
}
