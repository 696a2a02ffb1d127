// Package validator turns ozzo-validation results into coded errors.
package validator

import (
	"errors"
	"sort"
	"strings"

	"github.com/KOMKZ/go-yogan-accountsync/errcode"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Field errors are keyed by the config file names.
func init() {
	validation.ErrorTag = "mapstructure"
}

// ErrInvalidConfig is returned for any configuration that fails validation.
var ErrInvalidConfig = errcode.New(10, 1, "config", "error.config.invalid", "invalid configuration")

// Validatable is implemented by every config struct.
type Validatable interface {
	Validate() error
}

// Check validates v and converts field errors into ErrInvalidConfig carrying
// a "fields" map and the section name. Non-validation errors are wrapped.
func Check(section string, v Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return ConvertValidationError(section, verrs)
	}
	return ErrInvalidConfig.Wrapf(err, "invalid %s configuration", section).WithData("section", section)
}

// ConvertValidationError flattens nested validation.Errors into
// "parent.child" keys.
func ConvertValidationError(section string, verrs validation.Errors) error {
	fields := make(map[string]string)
	flatten("", verrs, fields)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	return ErrInvalidConfig.
		WithMsgf("invalid %s configuration: %s", section, strings.Join(names, ", ")).
		WithData("section", section).
		WithData("fields", fields)
}

func flatten(prefix string, verrs validation.Errors, out map[string]string) {
	for field, ferr := range verrs {
		if ferr == nil {
			continue
		}
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		var nested validation.Errors
		if errors.As(ferr, &nested) {
			flatten(name, nested, out)
			continue
		}
		out[name] = ferr.Error()
	}
}
