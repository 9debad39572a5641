// Copyright (c) 2026 Mesteriis

package acme

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/crypto/keygen"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
)

// Issuer drives authorization then issuance for ACME ("LE") subjects
// (spec §4.3).
type Issuer struct {
	Authorizer  *Authorizer
	Client      Operations
	Store       *store.Store
	Registry    *model.Registry
	RSABits     int
	ECCurve     keygen.Curve
	LECASubject string
}

// CAResolver persists a freshly-learned intermediate certificate as a CA
// CertInstance, creating the CA CertMeta if it does not exist yet. Kept as
// an injected function so the issuer does not hard-code how a CA row id is
// minted — the lifecycle coordinator owns that policy.
type CAResolver func(ctx context.Context, intermediateDER []byte) (*model.CertInstance, error)

// Issue runs the full authorization + issuance flow for cm and returns a
// new CertInstance in state "issued".
func (iss *Issuer) Issue(ctx context.Context, certificateRowID int64, cm *model.CertMeta, resolveCA CAResolver) (*model.CertInstance, error) {
	iss.Authorizer.PersistAuthorizedUntil = func(ctx context.Context, until time.Time) error {
		return iss.Store.UpdateAuthorizedUntil(ctx, certificateRowID, cm.CertType, &until)
	}

	until, err := iss.Authorizer.Authorize(ctx, cm, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	cm.AuthorizedUntil = &until

	algos := cm.EncryptionAlgo.Algorithms()
	if len(algos) == 0 {
		return nil, apperr.New("acme.Issue", apperr.Configuration, fmt.Errorf("cert_meta %q has no usable encryption_algo", cm.Name))
	}

	ci := model.NewReservedInstance(cm, nil)
	ckses := make([]*model.CertKeyStore, 0, len(algos))

	for i, algo := range algos {
		key, err := keygen.GenerateForAlgorithm(algo, iss.rsaBits(), iss.ecCurve())
		if err != nil {
			return nil, apperr.New("acme.Issue", apperr.IssueFailure, err)
		}
		_, csrDER, err := keygen.BuildCSR(key, cm.Name, cm.FQDNs())
		if err != nil {
			return nil, apperr.New("acme.Issue", apperr.IssueFailure, err)
		}

		leafDER, intermediateDER, err := iss.Client.IssueCertificate(ctx, csrDER)
		if err != nil {
			return nil, err // already an *apperr.Error (AcmeTransport/AcmeProtocol)
		}

		leaf, err := x509.ParseCertificate(leafDER)
		if err != nil {
			return nil, apperr.New("acme.Issue", apperr.AcmeProtocol, err)
		}

		if i == 0 {
			caCI, err := resolveCA(ctx, intermediateDER)
			if err != nil {
				return nil, apperr.New("acme.Issue", apperr.PersistenceFailure, err)
			}
			ci.CACertCI = caCI
			ci.NotBefore = leaf.NotBefore
			ci.NotAfter = leaf.NotAfter
		}

		keyPEM, err := keygen.MarshalPrivateKeyPEM(key)
		if err != nil {
			return nil, apperr.New("acme.Issue", apperr.IssueFailure, err)
		}
		cks, err := model.NewCertKeyStore(algo, leafDER, keyPEM)
		if err != nil {
			return nil, apperr.New("acme.Issue", apperr.IssueFailure, err)
		}
		cks = iss.Registry.InternKeyStore(cks)
		if err := ci.SetKeyStore(cks); err != nil {
			return nil, apperr.New("acme.Issue", apperr.IssueFailure, err)
		}
		ckses = append(ckses, cks)
	}

	ci.State = model.StateIssued
	if err := iss.Store.PersistIssuedInstance(ctx, certificateRowID, ci, ckses); err != nil {
		return nil, apperr.New("acme.Issue", apperr.PersistenceFailure, err)
	}
	cm.AddInstance(ci)
	return ci, nil
}

func (iss *Issuer) rsaBits() int {
	if iss.RSABits != 0 {
		return iss.RSABits
	}
	return 2048
}

func (iss *Issuer) ecCurve() keygen.Curve {
	if iss.ECCurve != "" {
		return iss.ECCurve
	}
	return keygen.CurveP256
}
