// Copyright (c) 2026 Mesteriis

package store_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
)

// openTestStore connects to the database named by SERVERPKI_TEST_DSN,
// migrates it, and returns a ready Store. Tests in this file need a real
// Postgres instance and skip themselves when that variable is unset, the
// same convention the teacher's own database-backed suites use for CI
// opt-in integration coverage.
func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("SERVERPKI_TEST_DSN")
	if dsn == "" {
		t.Skip("SERVERPKI_TEST_DSN not set, skipping store integration test")
	}
	require.NoError(t, store.Migrate(dsn))
	s, err := store.Open(dsn, model.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertCACertInstanceReferencesItself(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ci := model.NewReservedInstance(nil, nil)
	ci.State = model.StateIssued
	ci.NotBefore = now
	ci.NotAfter = now.Add(10 * 365 * 24 * time.Hour)

	err := s.InsertCACertInstance(ctx, 1, ci)
	require.NoError(t, err)
	require.NotZero(t, ci.RowID)
	require.Same(t, ci, ci.CACertCI)
}

func TestUpdateAuthorizedUntilRejectsNilForNonLocal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	err := s.UpdateAuthorizedUntil(ctx, 1, model.CertTypeLE, nil)
	require.Error(t, err)
}

func TestPersistIssuedInstanceStoresInstanceAndKeys(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ca := model.NewReservedInstance(nil, nil)
	ca.State = model.StateIssued
	ca.NotBefore = now
	ca.NotAfter = now.Add(time.Hour)
	require.NoError(t, s.InsertCACertInstance(ctx, 1, ca))

	cm := &model.CertMeta{Name: "srv.example", EncryptionAlgo: model.AlgoRSA}
	ci := model.NewReservedInstance(cm, ca)
	ci.NotBefore = now
	ci.NotAfter = now.Add(time.Hour)
	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{SerialNumber: big.NewInt(1), NotBefore: now, NotAfter: now.Add(time.Hour)}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, certKey.Public(), certKey)
	require.NoError(t, err)
	cks, err := model.NewCertKeyStore(model.AlgRSA, certDER, []byte("key"))
	require.NoError(t, err)
	require.NoError(t, ci.SetKeyStore(cks))
	ci.State = model.StateIssued

	require.NoError(t, s.PersistIssuedInstance(ctx, 1, ci, []*model.CertKeyStore{cks}))
	require.NotZero(t, ci.RowID)

	loaded, err := s.LoadInstance(ctx, ci.RowID, cm)
	require.NoError(t, err)
	require.Equal(t, model.StateIssued, loaded.State)
	require.Len(t, loaded.CKSD, 1)
}

func TestDeleteCertInstanceRemovesInstance(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	ca := model.NewReservedInstance(nil, nil)
	ca.State = model.StateIssued
	ca.NotBefore = now
	ca.NotAfter = now.Add(time.Hour)
	require.NoError(t, s.InsertCACertInstance(ctx, 1, ca))

	ci := model.NewReservedInstance(nil, ca)
	ci.State = model.StateReserved
	ci.NotBefore = now
	ci.NotAfter = now.Add(time.Hour)
	require.NoError(t, s.InsertCertInstance(ctx, 1, ci))

	require.NoError(t, s.DeleteCertInstance(ctx, ci.RowID))

	_, err := s.LoadInstance(ctx, ci.RowID, nil)
	require.Error(t, err)
}
