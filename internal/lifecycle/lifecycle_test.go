// Copyright (c) 2026 Mesteriis

package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
)

func TestInstanceHashPrefersEC(t *testing.T) {
	t.Parallel()
	ci := model.NewReservedInstance(&model.CertMeta{EncryptionAlgo: model.AlgoRSAAndEC}, nil)
	ci.CKSD[model.AlgRSA] = &model.CertKeyStore{Algorithm: model.AlgRSA, Hash: "RSAHASH"}
	ci.CKSD[model.AlgEC] = &model.CertKeyStore{Algorithm: model.AlgEC, Hash: "ECHASH"}
	require.Equal(t, "ECHASH", instanceHash(ci))
}

func TestInstanceHashFallsBackToRSA(t *testing.T) {
	t.Parallel()
	ci := model.NewReservedInstance(&model.CertMeta{EncryptionAlgo: model.AlgoRSA}, nil)
	ci.CKSD[model.AlgRSA] = &model.CertKeyStore{Algorithm: model.AlgRSA, Hash: "RSAHASH"}
	require.Equal(t, "RSAHASH", instanceHash(ci))
}

func TestInstanceHashNilInstanceIsEmpty(t *testing.T) {
	t.Parallel()
	require.Equal(t, "", instanceHash(nil))
}

func TestResolveIntermediateCAReusesKnownHashWithoutTouchingStore(t *testing.T) {
	t.Parallel()
	registry := model.NewRegistry()
	c := &Coordinator{Registry: registry, LECASubject: "Let's Encrypt R3"}

	caCM := registry.Intern(c.LECASubject, &model.CertMeta{Name: c.LECASubject, SubjectType: model.SubjectCA, EncryptionAlgo: model.AlgoEC})
	known := model.NewReservedInstance(caCM, nil)
	known.RowID = 7
	known.CACertCI = known
	knownDER := []byte("intermediate-der-bytes")
	hash := model.FingerprintHash(knownDER)
	known.CKSD[model.AlgEC] = &model.CertKeyStore{Algorithm: model.AlgEC, Hash: hash}
	caCM.AddInstance(known)

	ci, err := c.resolveIntermediateCA(context.Background(), knownDER)
	require.NoError(t, err)
	require.Same(t, known, ci)
}
