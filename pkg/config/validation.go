package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The s3 backend needs its bucket up front. The objectservice section may
	// stay empty at load time: purely local commands never touch the backend,
	// and NewServiceClient fails fast on missing credentials when one does.
	if cfg.Backend.Type == "s3" {
		if bucket, ok := cfg.Backend.S3["bucket"].(string); !ok || bucket == "" {
			return fmt.Errorf("backend: type is s3 but backend.s3.bucket is empty")
		}
	}

	// The badger manifest cache needs a database location
	if cfg.Manifest.Type == "badger" {
		if path, ok := cfg.Manifest.Badger["db_path"].(string); !ok || path == "" {
			return fmt.Errorf("manifest: type is badger but manifest.badger.db_path is empty")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
