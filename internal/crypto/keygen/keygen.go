// Copyright (c) 2026 Mesteriis

// Package keygen generates the RSA and EC key pairs the local and ACME
// issuers need, one key per issuance (no pooling — a CertInstance is
// created rarely enough that pre-generation would add complexity without a
// measurable benefit).
package keygen

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/Mesteriis/serverPKI/internal/model"
)

// Curve names the supported EC curves, selected by configuration.
type Curve string

const (
	CurveP256 Curve = "P-256"
	CurveP384 Curve = "P-384"
	CurveP521 Curve = "P-521"
)

func (c Curve) ellipticCurve() (elliptic.Curve, error) {
	switch c {
	case CurveP256, "":
		return elliptic.P256(), nil
	case CurveP384:
		return elliptic.P384(), nil
	case CurveP521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", c)
	}
}

// GenerateRSA generates a fresh RSA private key of the given bit size.
func GenerateRSA(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}

// GenerateEC generates a fresh EC private key on the given curve.
func GenerateEC(curve Curve) (*ecdsa.PrivateKey, error) {
	c, err := curve.ellipticCurve()
	if err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ec key: %w", err)
	}
	return key, nil
}

// GenerateForAlgorithm generates a key pair matching algo, using bits for
// RSA and curve for EC.
func GenerateForAlgorithm(algo model.Algorithm, bits int, curve Curve) (crypto.Signer, error) {
	switch algo {
	case model.AlgRSA:
		return GenerateRSA(bits)
	case model.AlgEC:
		return GenerateEC(curve)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownAlgorithm, algo)
	}
}
