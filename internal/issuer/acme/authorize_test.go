// Copyright (c) 2026 Mesteriis

package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

type fakeOps struct {
	pub           crypto.PublicKey
	statusByFQDN  map[string]string
	validateCalls []string
}

func (f *fakeOps) AccountPublicKey() crypto.PublicKey { return f.pub }

func (f *fakeOps) NewAuthorization(ctx context.Context, fqdn string) (*Authorization, error) {
	return &Authorization{URI: "uri:" + fqdn, Status: "pending", ChallengeURI: "chal:" + fqdn, Token: "token-" + fqdn}, nil
}

func (f *fakeOps) ValidateAuthorization(ctx context.Context, challengeURI string) error {
	f.validateCalls = append(f.validateCalls, challengeURI)
	return nil
}

func (f *fakeOps) GetAuthorization(ctx context.Context, uri string) (*Authorization, error) {
	fqdn := uri[len("uri:"):]
	status := f.statusByFQDN[fqdn]
	return &Authorization{URI: uri, Status: status, Expires: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeOps) IssueCertificate(ctx context.Context, csrDER []byte) ([]byte, []byte, error) {
	return nil, nil, nil
}

type fakeControl struct{}

func (fakeControl) UpdateZoneCache(string) error   { return nil }
func (fakeControl) UpdateSOAOfUpdatedZones() error { return nil }
func (fakeControl) ReloadNameServer() error        { return nil }

func newTestAuthorizer(t *testing.T, ops *fakeOps) *Authorizer {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com"), 0o755))
	pub := zone.NewPublisher(root, "challenges.include", false, fakeControl{})
	a := NewAuthorizer(ops, pub)
	a.Sleep = func(time.Duration) {}
	return a
}

func testAccountKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestAuthorizeSucceedsWhenAllFQDNsValidate(t *testing.T) {
	t.Parallel()
	key := testAccountKey(t)
	ops := &fakeOps{pub: key.Public(), statusByFQDN: map[string]string{
		"a.example.com": "valid",
	}}
	a := newTestAuthorizer(t, ops)

	cm := &model.CertMeta{Name: "a.example.com"}
	until, err := a.Authorize(context.Background(), cm, time.Now())
	require.NoError(t, err)
	require.Equal(t, 2030, until.Year())
	require.Len(t, ops.validateCalls, 1)
}

func TestAuthorizeFailsWhenAnyFQDNInvalid(t *testing.T) {
	t.Parallel()
	key := testAccountKey(t)
	ops := &fakeOps{pub: key.Public(), statusByFQDN: map[string]string{
		"a.example.com": "invalid",
	}}
	a := newTestAuthorizer(t, ops)

	cm := &model.CertMeta{Name: "a.example.com"}
	_, err := a.Authorize(context.Background(), cm, time.Now())
	require.Error(t, err)
}

func TestAuthorizeSkipsWhenAlreadyAuthorized(t *testing.T) {
	t.Parallel()
	key := testAccountKey(t)
	ops := &fakeOps{pub: key.Public()}
	a := newTestAuthorizer(t, ops)

	future := time.Now().Add(24 * time.Hour)
	cm := &model.CertMeta{Name: "a.example.com", AuthorizedUntil: &future}
	until, err := a.Authorize(context.Background(), cm, time.Now())
	require.NoError(t, err)
	require.Equal(t, future, until)
	require.Empty(t, ops.validateCalls)
}
