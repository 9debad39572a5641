// Copyright (c) 2026 Mesteriis

package apperr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/apperr"
)

func TestIs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		kind     apperr.Kind
		expected bool
	}{
		{"matching-kind", apperr.New("deploy", apperr.NoInstance, nil), apperr.NoInstance, true},
		{"mismatched-kind", apperr.New("deploy", apperr.NoInstance, nil), apperr.MissingPlace, false},
		{"not-an-apperr", errors.New("boom"), apperr.NoInstance, false},
		{"nil-error", nil, apperr.NoInstance, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, apperr.Is(tc.err, tc.kind))
		})
	}
}

func TestWrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := apperr.New("ssh.connect", apperr.TransportError, cause)

	require.ErrorIs(t, err, cause)
	require.True(t, apperr.Is(err, apperr.TransportError))
	require.Contains(t, err.Error(), "transport_error")
}
