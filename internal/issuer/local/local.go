// Copyright (c) 2026 Mesteriis

// Package local implements the local issuer (C3): a self-signed root CA and
// leaf certificates signed directly by it, without any network round trip.
// Key generation and CSR handling follow the validate-before-mutate,
// sign-with-CA-key shape of the retrieval pack's standalone CA tool; issuance
// here additionally threads the result through the store's reserved/issued
// CertInstance lifecycle (spec §4.2).
package local

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/crypto/keygen"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
)

// Issuer signs certificates without an ACME round trip: a self-signed root
// once, and leaf certificates against that root thereafter.
type Issuer struct {
	Store       *store.Store
	RSABits     int
	ECCurve     keygen.Curve
	ValidityFor func(cm *model.CertMeta) time.Duration
}

const defaultCAValidity = 10 * 365 * 24 * time.Hour

func (iss *Issuer) validityFor(cm *model.CertMeta) time.Duration {
	if iss.ValidityFor != nil {
		return iss.ValidityFor(cm)
	}
	return 90 * 24 * time.Hour
}

// IssueRoot creates a new self-signed CA instance for cm (which must have
// SubjectType "CA"), persisting it via the store's two-step self-reference
// insert (spec §9).
func (iss *Issuer) IssueRoot(ctx context.Context, certificateRowID int64, cm *model.CertMeta) (*model.CertInstance, error) {
	if cm.SubjectType != model.SubjectCA {
		return nil, apperr.New("local.IssueRoot", apperr.Configuration, fmt.Errorf("cert_meta %q is not a CA subject", cm.Name))
	}

	algos := cm.EncryptionAlgo.Algorithms()
	if len(algos) == 0 {
		return nil, apperr.New("local.IssueRoot", apperr.Configuration, fmt.Errorf("cert_meta %q has no usable encryption_algo", cm.Name))
	}

	ci := model.NewReservedInstance(cm, nil)
	ci.NotBefore = time.Now().UTC()
	ci.NotAfter = ci.NotBefore.Add(defaultCAValidity)
	ci.OCSPMustStaple = cm.OCSPMustStaple

	if err := iss.Store.InsertCACertInstance(ctx, certificateRowID, ci); err != nil {
		return nil, apperr.New("local.IssueRoot", apperr.PersistenceFailure, err)
	}

	for _, algo := range algos {
		cks, err := iss.selfSign(cm, algo, ci)
		if err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueRoot", apperr.IssueFailure, err)
		}
		if err := ci.SetKeyStore(cks); err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueRoot", apperr.IssueFailure, err)
		}
		if err := iss.Store.InsertCertKeyData(ctx, ci.RowID, cks); err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueRoot", apperr.PersistenceFailure, err)
		}
	}

	ci.State = model.StateIssued
	if err := iss.Store.UpdateCertInstance(ctx, ci); err != nil {
		return nil, apperr.New("local.IssueRoot", apperr.PersistenceFailure, err)
	}
	cm.AddInstance(ci)
	return ci, nil
}

func (iss *Issuer) selfSign(cm *model.CertMeta, algo model.Algorithm, ci *model.CertInstance) (*model.CertKeyStore, error) {
	key, err := keygen.GenerateForAlgorithm(algo, iss.rsaBits(), iss.ecCurve())
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub := key.Public()
	ski, err := subjectKeyID(pub)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cm.Name},
		NotBefore:             ci.NotBefore,
		NotAfter:              ci.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    sigAlgorithm(algo),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	if err != nil {
		return nil, fmt.Errorf("self-sign root certificate: %w", err)
	}
	keyPEM, err := keygen.MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	return model.NewCertKeyStore(algo, certDER, keyPEM)
}

// IssueLeaf builds a CSR for cm (subject = cm.Name, SANs = cm.FQDNs()),
// signs it with caCI's private key, and returns a new "issued" CertInstance
// pointing at caCI (spec §4.2). On any failure after the instance is
// reserved, the reservation is deleted.
func (iss *Issuer) IssueLeaf(ctx context.Context, certificateRowID int64, cm *model.CertMeta, caCI *model.CertInstance) (*model.CertInstance, error) {
	if cm.SubjectType == model.SubjectCA {
		return nil, apperr.New("local.IssueLeaf", apperr.Configuration, fmt.Errorf("cert_meta %q is a CA subject, use IssueRoot", cm.Name))
	}
	if caCI == nil || caCI.RowID == 0 {
		return nil, apperr.New("local.IssueLeaf", apperr.MissingParent, fmt.Errorf("cert_meta %q has no persisted CA instance", cm.Name))
	}
	algos := cm.EncryptionAlgo.Algorithms()
	if len(algos) == 0 {
		return nil, apperr.New("local.IssueLeaf", apperr.Configuration, fmt.Errorf("cert_meta %q has no usable encryption_algo", cm.Name))
	}

	ci := model.NewReservedInstance(cm, caCI)
	ci.NotBefore = time.Now().UTC()
	ci.NotAfter = ci.NotBefore.Add(iss.validityFor(cm))
	ci.OCSPMustStaple = cm.OCSPMustStaple

	if err := iss.Store.InsertCertInstance(ctx, certificateRowID, ci); err != nil {
		return nil, apperr.New("local.IssueLeaf", apperr.PersistenceFailure, err)
	}

	caCert, caKey, err := iss.loadCASigner(caCI)
	if err != nil {
		_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
		return nil, apperr.New("local.IssueLeaf", apperr.IssueFailure, err)
	}

	for _, algo := range algos {
		cks, err := iss.signLeaf(cm, algo, ci, caCert, caKey)
		if err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueLeaf", apperr.IssueFailure, err)
		}
		if err := ci.SetKeyStore(cks); err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueLeaf", apperr.IssueFailure, err)
		}
		if err := iss.Store.InsertCertKeyData(ctx, ci.RowID, cks); err != nil {
			_ = iss.Store.DeleteCertInstance(ctx, ci.RowID)
			return nil, apperr.New("local.IssueLeaf", apperr.PersistenceFailure, err)
		}
	}

	ci.State = model.StateIssued
	if err := iss.Store.UpdateCertInstance(ctx, ci); err != nil {
		return nil, apperr.New("local.IssueLeaf", apperr.PersistenceFailure, err)
	}
	cm.AddInstance(ci)
	return ci, nil
}

// loadCASigner picks the CA's RSA key-store entry if present, otherwise its
// EC entry, and returns the parsed certificate and private key.
func (iss *Issuer) loadCASigner(caCI *model.CertInstance) (*x509.Certificate, crypto.Signer, error) {
	var cks *model.CertKeyStore
	if c, ok := caCI.CKSD[model.AlgRSA]; ok {
		cks = c
	} else if c, ok := caCI.CKSD[model.AlgEC]; ok {
		cks = c
	}
	if cks == nil {
		return nil, nil, fmt.Errorf("CA instance %d has no key material loaded", caCI.RowID)
	}
	cert, key, err := keygen.ParseCertAndKeyPEM(cks.Cert, cks.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("load CA signer: %w", err)
	}
	return cert, key, nil
}

func (iss *Issuer) signLeaf(cm *model.CertMeta, algo model.Algorithm, ci *model.CertInstance, caCert *x509.Certificate, caKey crypto.Signer) (*model.CertKeyStore, error) {
	key, err := keygen.GenerateForAlgorithm(algo, iss.rsaBits(), iss.ecCurve())
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	_, csrDER, err := keygen.BuildCSR(key, cm.Name, cm.FQDNs())
	if err != nil {
		return nil, fmt.Errorf("build csr: %w", err)
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("parse csr: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("csr signature invalid: %w", err)
	}

	ski, err := subjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, err
	}
	keyUsage := x509.KeyUsageDigitalSignature
	if algo == model.AlgRSA {
		keyUsage |= x509.KeyUsageKeyEncipherment
	}

	template := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               csr.Subject,
		DNSNames:              csr.DNSNames,
		NotBefore:             ci.NotBefore,
		NotAfter:              ci.NotAfter,
		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          ski,
		AuthorityKeyId:        caCert.SubjectKeyId,
		SignatureAlgorithm:    sigAlgorithm(algo),
	}
	if cm.OCSPMustStaple {
		template.ExtraExtensions = append(template.ExtraExtensions, ocspMustStapleExtension())
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("sign leaf certificate: %w", err)
	}
	keyPEM, err := keygen.MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	return model.NewCertKeyStore(algo, certDER, keyPEM)
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

func sigAlgorithm(algo model.Algorithm) x509.SignatureAlgorithm {
	if algo == model.AlgEC {
		return x509.ECDSAWithSHA256
	}
	return x509.SHA256WithRSA
}

func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key for ski: %w", err)
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}

var serialCounter int64 = 1

// newSerial hands out monotonically increasing serials within this process.
// Durable uniqueness across restarts is guaranteed by the certificate's
// fingerprint hash (spec §8 property 3), not by this counter.
func newSerial() *big.Int {
	serialCounter++
	return big.NewInt(serialCounter)
}

func ocspMustStapleExtension() pkix.Extension {
	return pkix.Extension{
		Id:    []int{1, 3, 6, 1, 5, 5, 7, 1, 24},
		Value: []byte{0x30, 0x03, 0x02, 0x01, 0x05},
	}
}
