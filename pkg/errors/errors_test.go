package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/Chrono-byte/flux/pkg/errors"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    errors.ErrorCode
		message string
		wantStr string
	}{
		{
			name:    "validation_error",
			code:    errors.ErrValidation,
			message: "source missing",
			wantStr: "[VALIDATION] source missing",
		},
		{
			name:    "resource_error",
			code:    errors.ErrResource,
			message: "cannot create staging directory",
			wantStr: "[RESOURCE] cannot create staging directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.New(tt.code, tt.message)

			if err.Code != tt.code {
				t.Errorf("New() code = %v, want %v", err.Code, tt.code)
			}
			if err.Details == nil {
				t.Error("New() details should be initialized")
			}
			if got := err.Error(); got != tt.wantStr {
				t.Errorf("Error() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := errors.Newf(errors.ErrOperation, "install %s-%s failed", "git", "2.44")
	if err.Message != "install git-2.44 failed" {
		t.Errorf("Newf() message = %q", err.Message)
	}
}

func TestWrap(t *testing.T) {
	baseErr := stderrors.New("base error")

	t.Run("wrap_non_nil_error", func(t *testing.T) {
		err := errors.Wrap(baseErr, errors.ErrInternal, "internal error")

		if err.Wrapped != baseErr {
			t.Error("Wrap() should preserve wrapped error")
		}
		wantStr := "[INTERNAL] internal error: base error"
		if got := err.Error(); got != wantStr {
			t.Errorf("Error() = %q, want %q", got, wantStr)
		}
	})

	t.Run("wrap_nil_error_returns_nil", func(t *testing.T) {
		if err := errors.Wrap(nil, errors.ErrInternal, "internal error"); err != nil {
			t.Error("Wrap(nil) should return nil")
		}
		if err := errors.Wrapf(nil, errors.ErrInternal, "x %d", 1); err != nil {
			t.Error("Wrapf(nil) should return nil")
		}
	})
}

func TestWithDetail(t *testing.T) {
	err := errors.New(errors.ErrRollbackFailed, "rollback failed").
		WithDetail("staging_dir", "/tmp/flux-1").
		WithDetail("backups", []string{"/b/1"})

	details := errors.GetErrorDetails(err)
	if details["staging_dir"] != "/tmp/flux-1" {
		t.Errorf("staging_dir detail = %v", details["staging_dir"])
	}
	if errors.GetErrorDetails(stderrors.New("plain")) != nil {
		t.Error("plain errors carry no details")
	}
}

func TestIs(t *testing.T) {
	err1 := errors.New(errors.ErrValidation, "error 1")
	err2 := errors.New(errors.ErrValidation, "error 2")
	err3 := errors.New(errors.ErrOperation, "error 3")

	if !err1.Is(err2) {
		t.Error("Is() should return true for same code")
	}
	if err1.Is(err3) {
		t.Error("Is() should return false for different codes")
	}
	if !stderrors.Is(err1, err2) {
		t.Error("errors.Is() should work with FluxError")
	}
}

func TestIsErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     errors.ErrorCode
		expected bool
	}{
		{
			name:     "matching_code",
			err:      errors.New(errors.ErrValidation, "bad"),
			code:     errors.ErrValidation,
			expected: true,
		},
		{
			name:     "different_code",
			err:      errors.New(errors.ErrValidation, "bad"),
			code:     errors.ErrInternal,
			expected: false,
		},
		{
			name:     "wrapped_code",
			err:      errors.Wrap(errors.New(errors.ErrBackendUnavailable, "no dnf"), errors.ErrValidation, "precondition"),
			code:     errors.ErrBackendUnavailable,
			expected: true,
		},
		{
			name:     "joined_code",
			err:      stderrors.Join(errors.New(errors.ErrOperation, "op"), errors.New(errors.ErrRollbackFailed, "rb")),
			code:     errors.ErrRollbackFailed,
			expected: true,
		},
		{
			name:     "standard_error",
			err:      stderrors.New("standard error"),
			code:     errors.ErrValidation,
			expected: false,
		},
		{
			name:     "nil_error",
			err:      nil,
			code:     errors.ErrValidation,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.IsErrorCode(tt.err, tt.code); got != tt.expected {
				t.Errorf("IsErrorCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected errors.ErrorCode
	}{
		{
			name:     "flux_error",
			err:      errors.New(errors.ErrLockHeld, "locked"),
			expected: errors.ErrLockHeld,
		},
		{
			name:     "outermost_wins",
			err:      errors.Wrap(errors.New(errors.ErrTimeout, "t"), errors.ErrOperation, "op"),
			expected: errors.ErrOperation,
		},
		{
			name:     "standard_error",
			err:      stderrors.New("standard error"),
			expected: errors.ErrUnknown,
		},
		{
			name:     "nil_error",
			err:      nil,
			expected: errors.ErrUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	rootCause := stderrors.New("root cause")
	fileErr := errors.Wrap(rootCause, errors.ErrFileAccess, "cannot read file")
	configErr := errors.Wrap(fileErr, errors.ErrConfigLoad, "failed to load config")

	if !errors.IsErrorCode(configErr, errors.ErrConfigLoad) {
		t.Error("Top level should have ErrConfigLoad code")
	}
	if !errors.IsErrorCode(configErr, errors.ErrFileAccess) {
		t.Error("Inner code should be reachable")
	}
	if !stderrors.Is(configErr, rootCause) {
		t.Error("Should find root cause with errors.Is")
	}
}
