package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/systmms/secrets-replicator/pkg/provider"
)

// Kind classifies a failure for retry decisions and result reporting.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindAccessDenied   Kind = "access_denied"
	KindMalformed      Kind = "malformed"
	KindTransient      Kind = "transient"
	KindRetryExhausted Kind = "retry_exhausted"
	KindUnsupported    Kind = "unsupported"
	KindUnknown        Kind = "unknown"
)

// String returns the wire name of the kind
func (k Kind) String() string {
	return string(k)
}

// Permanent reports whether an error of this kind must not be retried
func (k Kind) Permanent() bool {
	return k != KindTransient
}

// Classified is implemented by errors that know their own Kind.
type Classified interface {
	Kind() Kind
}

// ReplicationError carries a classification alongside the failing operation
type ReplicationError struct {
	Class   Kind
	Op      string
	Message string
	Err     error
}

func (e *ReplicationError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Class))
	}
	if e.Message != "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ReplicationError) Unwrap() error {
	return e.Err
}

// Kind implements Classified
func (e *ReplicationError) Kind() Kind {
	return e.Class
}

// New builds a ReplicationError
func New(kind Kind, op, message string, err error) *ReplicationError {
	return &ReplicationError{Class: kind, Op: op, Message: message, Err: err}
}

// NotFound, AccessDenied, Malformed and Transient are shorthands for New.
func NotFound(op string, err error) error {
	return New(KindNotFound, op, "", err)
}

func AccessDenied(op string, err error) error {
	return New(KindAccessDenied, op, "", err)
}

func Malformed(op, message string, err error) error {
	return New(KindMalformed, op, message, err)
}

func Transient(op string, err error) error {
	return New(KindTransient, op, "", err)
}

// KindOf walks the error chain and returns the first classification found.
// Unclassified errors fall back to message inspection for throttling hints.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var classified Classified
	if errors.As(err, &classified) {
		return classified.Kind()
	}

	var notFound *provider.NotFoundError
	if errors.As(err, &notFound) {
		return KindNotFound
	}
	var authErr *provider.AuthError
	if errors.As(err, &authErr) {
		return KindAccessDenied
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind := ClassifyCode(apiErr.ErrorCode()); kind != KindUnknown {
			return kind
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		if code := status.HTTPStatusCode(); code == 429 || code >= 500 {
			return KindTransient
		}
	}

	if IsRetryable(err) {
		return KindTransient
	}
	return KindUnknown
}

// ClassifyCode maps an AWS API error code to a Kind
func ClassifyCode(code string) Kind {
	switch code {
	case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded",
		"InternalServiceError", "InternalServiceErrorException", "InternalFailure",
		"InternalServerError", "ServiceUnavailable", "ServiceUnavailableException":
		return KindTransient
	case "ResourceNotFoundException", "ParameterNotFound", "NoSuchEntity":
		return KindNotFound
	case "AccessDeniedException", "AccessDenied", "UnrecognizedClientException",
		"ExpiredTokenException", "InvalidClientTokenId", "RegionDisabledException":
		return KindAccessDenied
	case "EncryptionFailure", "DecryptionFailure":
		return KindAccessDenied
	}
	if strings.HasPrefix(code, "Invalid") || strings.HasPrefix(code, "Malformed") ||
		code == "LimitExceededException" || code == "ValidationException" {
		return KindMalformed
	}
	return KindUnknown
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Kind implements Classified; bad configuration never heals on retry.
func (e ConfigError) Kind() Kind {
	return KindMalformed
}

// ForUser wraps a replication failure with a suggestion for CLI output
func ForUser(op string, err error) error {
	if err == nil {
		return nil
	}
	return UserError{
		Message:    fmt.Sprintf("%s failed", op),
		Suggestion: suggestionFor(KindOf(err)),
		Err:        err,
	}
}

func suggestionFor(kind Kind) string {
	switch kind {
	case KindNotFound:
		return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
	case KindAccessDenied:
		return "Check IAM permissions and, for cross-account destinations, the role trust policy"
	case KindMalformed:
		return "Check the filter, name mapping and transformation rule syntax with 'secrets-replicator transform'"
	case KindTransient, KindRetryExhausted:
		return "AWS rate limit or service error. Wait a moment and try again"
	case KindUnsupported:
		return "Binary secrets cannot be transformed; store the value as a string"
	}
	return ""
}

// IsRetryable checks if an error message looks like a transient failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"rate exceeded",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
