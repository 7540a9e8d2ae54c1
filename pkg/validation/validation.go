// Package validation checks integration config and credential shape before
// any network or persistence work happens. Everything here is pure.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidateProviderType rejects unknown providers.
func ValidateProviderType(p models.ProviderType) error {
	if !p.IsValid() {
		return apperrors.Validation("unsupported provider type %q", p).WithField("provider_type")
	}
	return nil
}

// ValidateConfig checks sync interval presence, the field mapping list, the
// webhook secret pairing and retry policy numerics.
func ValidateConfig(cfg *models.IntegrationConfig) error {
	if cfg == nil {
		return apperrors.Validation("config is required").WithField("config")
	}
	return toValidationError("config", validate.Struct(cfg))
}

// ValidateCredentials checks the four structurally required credential fields.
// An expired token is accepted; the gateway refreshes it.
func ValidateCredentials(creds *models.Credentials) error {
	if creds == nil {
		return apperrors.Validation("credentials are required").WithField("credentials")
	}
	return toValidationError("credentials", validate.Struct(creds))
}

func toValidationError(prefix string, err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Validation("invalid %s: %v", prefix, err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, describe(fe))
	}

	field := fieldPath(prefix, verrs[0])
	return apperrors.Validation("invalid %s: %s", prefix, strings.Join(messages, "; ")).WithField(field)
}

func fieldPath(prefix string, fe validator.FieldError) string {
	// Namespace is "IntegrationConfig.field_mappings[0].source_field"
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return prefix + "." + ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", fe.Field(), jsonName(fe.Param()))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed rule '%s'", fe.Field(), fe.Tag())
	}
}

func jsonName(structField string) string {
	switch structField {
	case "WebhookURL":
		return "webhook_url"
	}
	return structField
}
