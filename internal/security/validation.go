package security

import (
	"encoding/base64"
	"fmt"
	"net/mail"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9\- ]{6,19}$`)
	controlChars    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	attachmentTypes = map[string]bool{
		".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".doc": true, ".docx": true,
	}
)

// ValidationService checks request input before it reaches the signing engine.
// All errors are safe to show to users.
type ValidationService struct {
	config *SecurityConfig
}

// NewValidationService creates a new validation service with security configuration.
func NewValidationService(config *SecurityConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

// ValidateEmail validates email address format according to RFC 5322.
func (v *ValidationService) ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}

	if len(email) > 255 {
		return fmt.Errorf("email must be less than 255 characters")
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format")
	}

	return nil
}

// ValidatePhone validates an international phone number used for SMS delivery.
func (v *ValidationService) ValidatePhone(phone string) error {
	if phone == "" {
		return fmt.Errorf("phone is required")
	}
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("invalid phone format")
	}
	return nil
}

// ValidateAttachment checks an uploaded attachment's name, encoding and decoded size.
func (v *ValidationService) ValidateAttachment(name, content string) error {
	if err := v.ValidateRequired("attachment name", name); err != nil {
		return err
	}
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return fmt.Errorf("attachment name must not contain a path")
	}
	if !attachmentTypes[strings.ToLower(filepath.Ext(name))] {
		return fmt.Errorf("attachment type %q is not allowed", filepath.Ext(name))
	}
	if content == "" {
		return fmt.Errorf("attachment %s is empty", name)
	}

	if base64.StdEncoding.DecodedLen(len(content)) > v.config.MaxAttachmentSize+2 {
		return fmt.Errorf("attachment %s exceeds %d bytes", name, v.config.MaxAttachmentSize)
	}
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return fmt.Errorf("attachment %s is not valid base64", name)
	}
	if len(decoded) > v.config.MaxAttachmentSize {
		return fmt.Errorf("attachment %s exceeds %d bytes", name, v.config.MaxAttachmentSize)
	}

	return nil
}

// ValidateAttachmentCount rejects submissions carrying too many attachments.
func (v *ValidationService) ValidateAttachmentCount(n int) error {
	if n > v.config.MaxAttachments {
		return fmt.Errorf("at most %d attachments may be uploaded at once", v.config.MaxAttachments)
	}
	return nil
}

// ValidateDeclineReason bounds the free-text reason a signer gives when declining.
func (v *ValidationService) ValidateDeclineReason(reason string) error {
	return v.ValidateLength("decline reason", reason, 0, v.config.MaxDeclineReasonSize)
}

// SanitizeString removes control characters (except newline and tab) and trims whitespace.
func (v *ValidationService) SanitizeString(input string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(input, ""))
}

// ValidateRequired checks if a required field is present and non-empty.
func (v *ValidationService) ValidateRequired(fieldName, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}

	return nil
}

// ValidateLength validates string length is within bounds.
func (v *ValidationService) ValidateLength(fieldName string, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}

	if length > max {
		return fmt.Errorf("%s must be %d characters or less", fieldName, max)
	}

	return nil
}
