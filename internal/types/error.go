// Package types defines the result codes and typed failures returned by the signing engine.
// Expected outcomes (bad token, invalid submission) are reported as *Failure values carrying a
// numeric ResultCode; unexpected infrastructure errors are plain wrapped errors.
package types

import (
	"errors"
	"fmt"
)

// ResultCode is the numeric string reported to callers for an expected failure.
type ResultCode string

const (
	Success                               ResultCode = "0"
	InvalidToken                          ResultCode = "101"
	InvalidDocumentCollectionId           ResultCode = "102"
	InvalidCredential                     ResultCode = "103"
	AuthenticationRequired                ResultCode = "104"
	InvalidOtpCode                        ResultCode = "105"
	OtpAttemptsExceeded                   ResultCode = "106"
	TooManyOtpRequests                    ResultCode = "107"
	DocumentNotBelongToDocumentCollection ResultCode = "201"
	NotAllFieldsExistsInDocuments         ResultCode = "202"
	NotAllFieldsBelongToSigner            ResultCode = "203"
	NotAllMandatoryFieldsFilledIn         ResultCode = "204"
	AttachmentNotClean                    ResultCode = "205"
	InvalidAttachment                     ResultCode = "206"
	CannotDownloadUnsignedDocument        ResultCode = "301"
	DocumentAlreadySignedBySigner         ResultCode = "302"
	DocumentCollectionNotActive           ResultCode = "303"
	InvalidStatusTransition               ResultCode = "304"
	UnsupportedSignMode                   ResultCode = "305"
	InvalidDocumentOperation              ResultCode = "306"
	DocumentCollectionNotOwnedByUser      ResultCode = "307"
	InvalidCompanyConfiguration           ResultCode = "308"
	TransientFailure                      ResultCode = "501"
)

// ErrorKind classifies a Failure for propagation and logging decisions.
type ErrorKind int

const (
	// KindSession covers missing, expired or mismatched signer sessions.
	KindSession ErrorKind = iota + 1
	// KindValidation covers submissions that do not match persisted data.
	KindValidation
	// KindTransient covers infrastructure hiccups that survived the retry strategy.
	KindTransient
	// KindIntegrity covers state conflicts detected inside a transaction.
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	}
	return "unknown"
}

// Failure is an expected, user-facing outcome. It is never logged as an unexpected error.
type Failure struct {
	Code    ResultCode `json:"code"`
	Kind    ErrorKind  `json:"-"`
	Message string     `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s [kind: %s]", f.Code, f.Message, f.Kind)
}

// Is matches another *Failure with the same code, so errors.Is works against the sentinels below.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Code == f.Code
}

func newFailure(kind ErrorKind, code ResultCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// SessionFailure builds a session-kind failure.
func SessionFailure(code ResultCode, format string, args ...any) *Failure {
	return newFailure(KindSession, code, format, args...)
}

// ValidationFailure builds a validation-kind failure.
func ValidationFailure(code ResultCode, format string, args ...any) *Failure {
	return newFailure(KindValidation, code, format, args...)
}

// IntegrityFailure builds an integrity-kind failure.
func IntegrityFailure(code ResultCode, format string, args ...any) *Failure {
	return newFailure(KindIntegrity, code, format, args...)
}

// TransientError wraps an infrastructure error that exhausted its retries.
func TransientError(err error) *Failure {
	return newFailure(KindTransient, TransientFailure, "temporary infrastructure failure: %v", err)
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidToken                   = &Failure{Code: InvalidToken}
	ErrInvalidDocumentCollectionId    = &Failure{Code: InvalidDocumentCollectionId}
	ErrInvalidCredential              = &Failure{Code: InvalidCredential}
	ErrCannotDownloadUnsignedDocument = &Failure{Code: CannotDownloadUnsignedDocument}
	ErrDocumentAlreadySignedBySigner  = &Failure{Code: DocumentAlreadySignedBySigner}
)

// AsFailure extracts a *Failure from err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// CodeOf returns the ResultCode carried by err, Success for nil, or "" for unexpected errors.
func CodeOf(err error) ResultCode {
	if err == nil {
		return Success
	}
	if f, ok := AsFailure(err); ok {
		return f.Code
	}
	return ""
}

// IsExpected reports whether err is a session or validation outcome that must not be logged as an error.
func IsExpected(err error) bool {
	f, ok := AsFailure(err)
	if !ok {
		return false
	}
	return f.Kind == KindSession || f.Kind == KindValidation
}
