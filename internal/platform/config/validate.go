package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field paths, e.g. "Payments.CallbackURL".
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func validate(cfg Config) error {
	cfg.Shipping.PickupLocation = strings.TrimSpace(cfg.Shipping.PickupLocation)

	var fields []string
	if err := configValidator.Struct(cfg); err != nil {
		var invalid validator.ValidationErrors
		if !errors.As(err, &invalid) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range invalid {
			fields = append(fields, strings.TrimPrefix(fe.StructNamespace(), "Config."))
		}
	}

	backoff := cfg.Fulfillment
	if backoff.InitialBackoff <= 0 || backoff.MaxBackoff < backoff.InitialBackoff {
		fields = append(fields, "Fulfillment.Backoff")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
