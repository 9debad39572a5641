// Copyright (c) 2026 Mesteriis

// Package lifecycle implements the lifecycle coordinator (C7): the single
// entry point that sequences issuance, TLSA prepublication, deployment and
// expiry sweeps across the other components, matching spec §4.6's ordered
// operation list.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/config"
	"github.com/Mesteriis/serverPKI/internal/dist"
	"github.com/Mesteriis/serverPKI/internal/issuer/acme"
	"github.com/Mesteriis/serverPKI/internal/issuer/local"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

// Coordinator owns the issuers, distribution engine and store and drives the
// four operations spec §4.6 names: issue, prepublish_tlsa, deploy,
// expire_sweep.
type Coordinator struct {
	Store      *store.Store
	Registry   *model.Registry
	Zone       *zone.Publisher
	Dist       *dist.Engine
	LocalIssue *local.Issuer
	ACMEIssue  *acme.Issuer

	// LECASubject names the CA CertMeta new ACME intermediates are filed
	// under; resolveIntermediateCA creates it on first sight and reuses it
	// by fingerprint hash thereafter.
	LECASubject string

	// LocalCASubject names the locally-signed root CA CertMeta every local
	// leaf chains to. Unlike LECASubject it is never minted on the fly: it
	// must already be issued via Issue on a CA CertMeta before any local
	// leaf can be issued.
	LocalCASubject string
}

// Issue runs §4.6 step 1: choose the local or ACME issuer per cm.CertType,
// inside one logical operation that deletes and re-raises on failure
// (deletion itself happens inside the issuers' own rollback paths; this
// method only decides which issuer runs and surfaces its error unchanged).
func (c *Coordinator) Issue(ctx context.Context, certificateRowID int64, cm *model.CertMeta) (*model.CertInstance, error) {
	switch cm.CertType {
	case model.CertTypeLocal:
		if cm.SubjectType == model.SubjectCA {
			return c.LocalIssue.IssueRoot(ctx, certificateRowID, cm)
		}
		caCI, err := c.resolveLocalCA(ctx, cm)
		if err != nil {
			return nil, err
		}
		return c.LocalIssue.IssueLeaf(ctx, certificateRowID, cm, caCI)
	case model.CertTypeLE:
		return c.ACMEIssue.Issue(ctx, certificateRowID, cm, c.resolveIntermediateCA)
	default:
		return nil, apperr.New("lifecycle.Issue", apperr.Configuration, fmt.Errorf("cert_meta %q has unknown cert_type %q", cm.Name, cm.CertType))
	}
}

// resolveLocalCA returns the active CA instance a local leaf should chain
// to. It does not create a CA on demand — a local CA is provisioned
// explicitly via Issue on a CA CertMeta, never implicitly from a leaf.
func (c *Coordinator) resolveLocalCA(ctx context.Context, cm *model.CertMeta) (*model.CertInstance, error) {
	caCM := c.Registry.Lookup(c.LocalCASubject)
	if caCM == nil {
		return nil, apperr.New("lifecycle.resolveLocalCA", apperr.Configuration, fmt.Errorf("no CA cert_meta %q loaded", c.LocalCASubject))
	}
	caCI := model.MostRecentActive(caCM.Instances(), time.Now().UTC())
	if caCI == nil {
		return nil, apperr.New("lifecycle.resolveLocalCA", apperr.NoInstance, fmt.Errorf("CA cert_meta %q has no active instance", c.LocalCASubject))
	}
	return caCI, nil
}

// resolveIntermediateCA implements the acme.CAResolver contract: it reuses
// an already-known intermediate CertInstance of the LE CA CertMeta by
// fingerprint hash, or persists a fresh CertInstance (minting the CA
// CertMeta and its certificates row on first sight) for an intermediate
// this process has never seen before. This is the policy deliberately kept
// out of the acme package (spec §4.3 note: CA-reuse policy belongs to the
// coordinator).
func (c *Coordinator) resolveIntermediateCA(ctx context.Context, intermediateDER []byte) (*model.CertInstance, error) {
	hash := model.FingerprintHash(intermediateDER)

	caCM := c.Registry.Lookup(c.LECASubject)
	if caCM == nil {
		caCM = c.Registry.Intern(c.LECASubject, &model.CertMeta{
			Name:           c.LECASubject,
			CertType:       model.CertTypeLE,
			SubjectType:    model.SubjectCA,
			EncryptionAlgo: model.AlgoEC,
		})
	}
	for _, ci := range caCM.Instances() {
		if cks, ok := ci.CKSD[model.AlgEC]; ok && cks.Hash == hash {
			return ci, nil
		}
	}

	certificateRowID, err := c.Store.EnsureCertificateRow(ctx, caCM)
	if err != nil {
		return nil, err
	}

	ci := model.NewReservedInstance(caCM, nil)
	ci.CACertCI = ci
	if err := c.Store.InsertCACertInstance(ctx, certificateRowID, ci); err != nil {
		return nil, apperr.New("lifecycle.resolveIntermediateCA", apperr.PersistenceFailure, err)
	}

	cks, err := model.NewCertKeyStore(model.AlgEC, intermediateDER, nil)
	if err != nil {
		return nil, apperr.New("lifecycle.resolveIntermediateCA", apperr.IssueFailure, err)
	}
	cks = c.Registry.InternKeyStore(cks)
	if err := ci.SetKeyStore(cks); err != nil {
		return nil, apperr.New("lifecycle.resolveIntermediateCA", apperr.IssueFailure, err)
	}
	if err := c.Store.InsertCertKeyData(ctx, ci.RowID, cks); err != nil {
		return nil, apperr.New("lifecycle.resolveIntermediateCA", apperr.PersistenceFailure, err)
	}

	ci.State = model.StateIssued
	if err := c.Store.UpdateCertInstance(ctx, ci); err != nil {
		return nil, apperr.New("lifecycle.resolveIntermediateCA", apperr.PersistenceFailure, err)
	}
	caCM.AddInstance(ci)
	return ci, nil
}

// PrepublishTLSA runs §4.6 step 2: publish prepublishedHash alongside the
// active hash and advance ci to "prepublished".
func (c *Coordinator) PrepublishTLSA(ctx context.Context, cm *model.CertMeta, active, prepublished *model.CertInstance) error {
	activeHash := instanceHash(active)
	prepublishedHash := instanceHash(prepublished)
	if err := c.Zone.PublishTLSA(cm, activeHash, prepublishedHash); err != nil {
		return err
	}
	if err := c.Zone.BumpAndReload(); err != nil {
		return err
	}
	prepublished.State = model.StatePrepublished
	if err := c.Store.UpdateCertInstance(ctx, prepublished); err != nil {
		return apperr.New("lifecycle.PrepublishTLSA", apperr.PersistenceFailure, err)
	}
	return nil
}

func instanceHash(ci *model.CertInstance) string {
	if ci == nil {
		return ""
	}
	if cks, ok := ci.CKSD[model.AlgEC]; ok {
		return cks.Hash
	}
	if cks, ok := ci.CKSD[model.AlgRSA]; ok {
		return cks.Hash
	}
	return ""
}

// Deploy runs §4.6 step 3: drive §4.4 via the distribution engine.
func (c *Coordinator) Deploy(ctx context.Context, targets []dist.Target, filters config.DistFilters) error {
	return c.Dist.Deploy(ctx, targets, filters, time.Now().UTC())
}

// ExpireSweep runs §4.6 step 4: mark every instance whose not_after has
// passed as expired, across the CertMetas passed in cms.
func (c *Coordinator) ExpireSweep(ctx context.Context, cms []*model.CertMeta) error {
	now := time.Now().UTC()
	var errs []error
	for _, cm := range cms {
		for _, ci := range cm.Instances() {
			if ci.State == model.StateExpired || ci.State == model.StateRevoked || ci.State == model.StateArchived {
				continue
			}
			if now.Before(ci.NotAfter) {
				continue
			}
			ci.State = model.StateExpired
			if err := c.Store.UpdateCertInstance(ctx, ci); err != nil {
				errs = append(errs, apperr.New("lifecycle.ExpireSweep", apperr.PersistenceFailure, err))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return joined
}
