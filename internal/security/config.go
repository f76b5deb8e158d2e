// Package security provides centralized security configuration and utilities for the
// signing engine: OTP and password policy, rate limiting, lockout, and input validation.
package security

import (
	"time"
)

// SecurityConfig holds all security-related configuration values.
type SecurityConfig struct {
	// Signer identification hashing
	BcryptCost int // Cost factor for bcrypt hashing of signer passwords

	// One-time codes
	OtpLength      int           // Digits in a generated code
	OtpTTL         time.Duration // Lifetime of a generated code
	OtpMaxAttempts int           // Failed verifications before the code is locked
	OtpSendLimit   int           // Codes a signer may request per OtpSendWindow
	OtpSendWindow  time.Duration

	// Password brute force protection
	PasswordLockoutThreshold int           // Wrong passwords before the signer is locked out
	PasswordLockoutDuration  time.Duration // How long the lockout lasts

	// Tokens
	SignerTokenTTL time.Duration // Lifetime of a signer link JWT
	OwnerTokenTTL  time.Duration // Lifetime of an owner bearer token

	// Submissions
	MaxAttachmentSize    int // Maximum decoded attachment size in bytes
	MaxAttachments       int // Maximum attachments per submission
	MaxDeclineReasonSize int // Maximum characters in a decline reason

	// StrictFieldOwnership rejects fields the persisted signer does not already own.
	StrictFieldOwnership bool

	// HTTP rate limits (requests per minute per client)
	RateLimitSigner int
	RateLimitOwner  int
	RateLimitLogin  int
}

// DefaultSecurityConfig returns security configuration with recommended defaults.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		BcryptCost: 12,

		OtpLength:      6,
		OtpTTL:         5 * time.Minute,
		OtpMaxAttempts: 5,
		OtpSendLimit:   3,
		OtpSendWindow:  time.Minute,

		PasswordLockoutThreshold: 10,
		PasswordLockoutDuration:  30 * time.Minute,

		SignerTokenTTL: 30 * 24 * time.Hour,
		OwnerTokenTTL:  8 * time.Hour,

		MaxAttachmentSize:    10 * 1024 * 1024, // 10MB
		MaxAttachments:       10,
		MaxDeclineReasonSize: 1000,

		StrictFieldOwnership: false,

		RateLimitSigner: 60,
		RateLimitOwner:  120,
		RateLimitLogin:  5,
	}
}
