package autochatter

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing channel", ErrMissingChannel, true},
		{"wrapped secrets", fmt.Errorf("startup: %w", ErrClientSecretsMissing), true},
		{"invalid setting", fmt.Errorf("load: %w", ErrInvalidConfig), true},
		{"unknown backend", fmt.Errorf("open: %w", ErrUnknownBackend), true},
		{"lock timeout", ErrLockTimeout, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfigError(tt.err); got != tt.want {
				t.Errorf("IsConfigError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
