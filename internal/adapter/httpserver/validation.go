package httpserver

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var (
	validEmail      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	validSettingKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateEmail validates an account email taken from a URL path.
func ValidateEmail(email string) ValidationResult {
	if email == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "email",
					Code:    "REQUIRED",
					Message: "Email is required",
				},
			},
		}
	}

	if len(email) > 254 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "email",
					Code:    "TOO_LONG",
					Message: "Email is too long (max 254 characters)",
				},
			},
		}
	}

	if !validEmail.MatchString(email) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "email",
					Code:    "INVALID_FORMAT",
					Message: "Email is not a valid address",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateSettingKey validates a settings key taken from a URL path.
func ValidateSettingKey(key string) ValidationResult {
	if key == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "key",
					Code:    "REQUIRED",
					Message: "Setting key is required",
				},
			},
		}
	}

	if len(key) > 100 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "key",
					Code:    "TOO_LONG",
					Message: "Setting key is too long (max 100 characters)",
				},
			},
		}
	}

	if !validSettingKey.MatchString(key) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "key",
					Code:    "INVALID_FORMAT",
					Message: "Setting key contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// SanitizeString sanitizes a string input
func SanitizeString(input string) string {
	// Remove null bytes and control characters
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 1000 {
		input = input[:1000]
	}

	// Ensure valid UTF-8
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}

	return input
}
