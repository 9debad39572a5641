// Copyright (c) 2026 Mesteriis

package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
)

func TestRegistryInternReturnsSameObject(t *testing.T) {
	t.Parallel()

	reg := model.NewRegistry()
	first := reg.Intern("a.example", &model.CertMeta{Name: "a.example"})
	second := reg.Intern("a.example", &model.CertMeta{Name: "a.example"})

	require.Same(t, first, second)
	require.Same(t, first, reg.Lookup("a.example"))
}

func TestRegistryInternKeyStoreOncePerHash(t *testing.T) {
	t.Parallel()

	reg := model.NewRegistry()
	a := &model.CertKeyStore{Algorithm: model.AlgRSA, Hash: "ABCD"}
	b := &model.CertKeyStore{Algorithm: model.AlgRSA, Hash: "ABCD"}

	require.Same(t, reg.InternKeyStore(a), reg.InternKeyStore(b))
}

func TestPlaceExpandCertPath(t *testing.T) {
	t.Parallel()

	p := model.Place{CertPath: "/etc/ssl/{}"}
	require.Equal(t, "/etc/ssl/a.example", p.ExpandCertPath("a.example"))

	noToken := model.Place{CertPath: "/etc/ssl/static"}
	require.Equal(t, "/etc/ssl/static", noToken.ExpandCertPath("a.example"))
}

func TestPlaceExpandReloadCommand(t *testing.T) {
	t.Parallel()

	p := model.Place{ReloadCommand: "/usr/sbin/service nginx reload {}"}
	require.Equal(t, "/usr/sbin/service nginx reload j", p.ExpandReloadCommand("j"))

	noToken := model.Place{ReloadCommand: "/usr/sbin/service nginx reload"}
	require.Equal(t, "/usr/sbin/service nginx reload", noToken.ExpandReloadCommand("j"))
}

func TestPlaceKeyMode(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 0o400, model.Place{}.KeyMode())
	require.EqualValues(t, 0o440, model.Place{Mode: 0o440}.KeyMode())
}

func TestDistHostJailListDefaultsToEmptyPseudoJail(t *testing.T) {
	t.Parallel()

	d := &model.DistHost{FQDN: "h.example"}
	jails := d.JailList()
	require.Len(t, jails, 1)
	require.Equal(t, "", jails[0].Name)
}

func TestDistHostDestRoot(t *testing.T) {
	t.Parallel()

	d := &model.DistHost{FQDN: "h.example", JailRoot: "/j"}
	require.Equal(t, "/", d.DestRoot(&model.Jail{Name: ""}))
	require.Equal(t, "/j/www", d.DestRoot(&model.Jail{Name: "www"}))
}

func TestCertInstanceActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ci := &model.CertInstance{
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	require.True(t, ci.Active(now))

	expired := &model.CertInstance{
		NotBefore: now.Add(-2 * time.Hour),
		NotAfter:  now.Add(-time.Hour),
	}
	require.False(t, expired.Active(now))
}

func TestCertInstanceValidateRequiresCACertCI(t *testing.T) {
	t.Parallel()

	cm := &model.CertMeta{Name: "srv.example", SubjectType: model.SubjectServer}
	ci := &model.CertInstance{CM: cm, RowID: 5}
	require.Error(t, ci.Validate())

	ca := &model.CertMeta{Name: "ca.example", SubjectType: model.SubjectCA}
	caCI := &model.CertInstance{CM: ca, RowID: 1}
	ci.CACertCI = caCI
	require.NoError(t, ci.Validate())
}

func TestCertInstanceSetKeyStoreRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	cm := &model.CertMeta{Name: "srv.example", EncryptionAlgo: model.AlgoRSA}
	ci := model.NewReservedInstance(cm, nil)

	err := ci.SetKeyStore(&model.CertKeyStore{Algorithm: model.AlgEC, Hash: "X"})
	require.ErrorIs(t, err, model.ErrUnknownAlgorithm)

	require.NoError(t, ci.SetKeyStore(&model.CertKeyStore{Algorithm: model.AlgRSA, Hash: "Y"}))
	require.Len(t, ci.CKSD, 1)
}

func TestMostRecentActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := &model.CertInstance{RowID: 1, State: model.StateIssued, NotBefore: now.Add(-48 * time.Hour), NotAfter: now.Add(-time.Hour)}
	active := &model.CertInstance{RowID: 2, State: model.StateDeployed, NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)}
	revokedButActive := &model.CertInstance{RowID: 3, State: model.StateRevoked, NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)}

	best := model.MostRecentActive([]*model.CertInstance{old, active, revokedButActive}, now)
	require.Same(t, active, best)
}

func TestCertMetaClearAuthorizedUntilOnlyForLocal(t *testing.T) {
	t.Parallel()

	then := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	le := &model.CertMeta{CertType: model.CertTypeLE, AuthorizedUntil: &then}
	le.ClearAuthorizedUntil()
	require.NotNil(t, le.AuthorizedUntil)

	local := &model.CertMeta{CertType: model.CertTypeLocal, AuthorizedUntil: &then}
	local.ClearAuthorizedUntil()
	require.Nil(t, local.AuthorizedUntil)
}

func TestFingerprintHashIsUppercaseHex(t *testing.T) {
	t.Parallel()

	hash := model.FingerprintHash([]byte("not-really-a-cert"))
	require.Len(t, hash, 64)
	require.Equal(t, hash, toUpperHex(hash))
}

func toUpperHex(s string) string {
	out := make([]byte, len(s))
	for i, c := range []byte(s) {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
