// Copyright (c) 2026 Mesteriis

package local

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/crypto/keygen"
	"github.com/Mesteriis/serverPKI/internal/model"
)

func TestSigAlgorithmMatchesKeyType(t *testing.T) {
	t.Parallel()

	require.Equal(t, x509.ECDSAWithSHA256, sigAlgorithm(model.AlgEC))
	require.Equal(t, x509.SHA256WithRSA, sigAlgorithm(model.AlgRSA))
}

func TestSubjectKeyIDIsStableForSameKey(t *testing.T) {
	t.Parallel()

	key, err := keygen.GenerateEC(keygen.CurveP256)
	require.NoError(t, err)

	a, err := subjectKeyID(key.Public())
	require.NoError(t, err)
	b, err := subjectKeyID(key.Public())
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 20) // SHA-1 digest
}

func TestNewSerialIsMonotonic(t *testing.T) {
	t.Parallel()

	a := newSerial()
	b := newSerial()
	require.Equal(t, 1, b.Cmp(a))
}
