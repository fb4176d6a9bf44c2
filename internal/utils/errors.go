package utils

import (
	"errors"
	"fmt"
)

// Error codes (tool-owned, stable)
const (
	// Configuration errors
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeProviderUnknown     = "PROVIDER_UNKNOWN"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	// Credential errors
	ErrCodeCredentialMissing    = "CREDENTIAL_MISSING"
	ErrCodeCredentialExpired    = "CREDENTIAL_EXPIRED"
	ErrCodeCredentialUnreadable = "CREDENTIAL_UNREADABLE"
	// Connector errors
	ErrCodeConnectorAuth    = "CONNECTOR_AUTH_FAILED"
	ErrCodeConnectorRemote  = "CONNECTOR_REMOTE_ERROR"
	ErrCodeConnectorNetwork = "CONNECTOR_NETWORK_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	// Integrity errors
	ErrCodeSizeLimit         = "SIZE_LIMIT_EXCEEDED"
	ErrCodeIntegrityMismatch = "INTEGRITY_MISMATCH"
	// Sync state
	ErrCodeConflict = "SYNC_CONFLICT"
	ErrCodeUnknown  = "UNKNOWN"
)

// AppError is the structured error carried across internal boundaries.
// Message must stay free of secrets; detail goes into Context.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AppErrorBuilder helps construct AppError instances
type AppErrorBuilder struct {
	err AppError
}

// NewAppError creates a new error builder
func NewAppError(code, message string) *AppErrorBuilder {
	return &AppErrorBuilder{
		err: AppError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *AppErrorBuilder) WithContext(key string, value interface{}) *AppErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *AppErrorBuilder) Build() *AppError {
	return &b.err
}

// CodeOf returns the error code for an error, or ErrCodeUnknown
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
