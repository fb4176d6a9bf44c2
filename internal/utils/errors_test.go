package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorBuilder(t *testing.T) {
	err := NewAppError(ErrCodeSizeLimit, "file too large").
		WithContext("local_path", "/tmp/a").Build()
	if err.Code != ErrCodeSizeLimit {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeSizeLimit)
	}
	if err.Context["local_path"] != "/tmp/a" {
		t.Errorf("Context = %v", err.Context)
	}
	if want := "SIZE_LIMIT_EXCEEDED: file too large"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCodeOf(t *testing.T) {
	appErr := NewAppError(ErrCodeConnectorAuth, "bad token").Build()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"app error", appErr, ErrCodeConnectorAuth},
		{"wrapped app error", fmt.Errorf("connect failed: %w", appErr), ErrCodeConnectorAuth},
		{"plain error", errors.New("boom"), ErrCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", ExitOK},
		{ErrCodeConfigInvalid, ExitConfig},
		{ErrCodeCredentialExpired, ExitCredential},
		{ErrCodeRateLimited, ExitConnector},
		{ErrCodeUnknown, ExitUnknown},
		{"SOMETHING_ELSE", ExitUnknown},
	}
	for _, tt := range tests {
		if got := ExitCodeFor(tt.code); got != tt.want {
			t.Errorf("ExitCodeFor(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
