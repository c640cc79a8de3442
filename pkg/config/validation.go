package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values using struct tags.
//
// Validation covers structural constraints (required fields, enum values,
// numeric ranges). It does not normalize values; that is ApplyDefaults'
// job, so validating a loaded config never mutates it.
func Validate(cfg *Config) error {
	validate := validator.New()

	// Report fields under their config file keys (telemetry.endpoint,
	// not Telemetry.Endpoint) so errors map directly onto the YAML.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %w", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// formatValidationErrors renders validator errors with the field path and
// the failed rule, which is what the operator needs to fix the file.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	var msg string
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		if fe.Param() != "" {
			msg += fmt.Sprintf("field %q failed rule %q (param: %s)", fe.Namespace(), fe.Tag(), fe.Param())
		} else {
			msg += fmt.Sprintf("field %q failed rule %q", fe.Namespace(), fe.Tag())
		}
	}
	return fmt.Errorf("%s", msg)
}
