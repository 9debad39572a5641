// Copyright (c) 2026 Mesteriis

package keygen

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
)

// BuildCSR builds a PKCS#10 certificate request over subject and SANs,
// signed by key, the shape spec §4.2/§4.3 need for both the local issuer and
// the ACME issuer.
func BuildCSR(key crypto.Signer, subject string, sans []string) (*x509.CertificateRequest, []byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: subject},
		DNSNames: sans,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create csr: %w", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse csr: %w", err)
	}
	return csr, der, nil
}
