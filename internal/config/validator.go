package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the RuntimeConfig using struct tags plus cross-field
// rules a tag can't express, mirroring the teacher's Validate/formatValidationErrors
// split between generic and hand-written checks.
func (c *RuntimeConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLSRequirement(); err != nil {
		return err
	}
	if err := c.validateAllowedUsersNonEmpty(); err != nil {
		return err
	}
	return nil
}

// validateTLSRequirement enforces spec §6.1: "the gateway refuses to start
// in the default mode without TLS material configured."
func (c *RuntimeConfig) validateTLSRequirement() error {
	if c.Server.Insecure {
		return nil
	}
	if c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "" {
		return errors.New("server: tls_cert_file and tls_key_file are required unless server.insecure is set")
	}
	return nil
}

// validateAllowedUsersNonEmpty enforces spec §6.3: "an allowed-user list
// that MUST be non-empty."
func (c *RuntimeConfig) validateAllowedUsersNonEmpty() error {
	if len(c.Messenger.AllowedUsers) == 0 {
		return errors.New("messenger: allowed_users must be non-empty")
	}
	for i, u := range c.Messenger.AllowedUsers {
		if u == "" {
			return fmt.Errorf("messenger: allowed_users[%d] is empty", i)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly
// messages, in the teacher's style.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
