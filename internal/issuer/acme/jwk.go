// Copyright (c) 2026 Mesteriis

package acme

import (
	"crypto"
	"encoding/base64"
	"fmt"

	joseJwk "github.com/lestrrat-go/jwx/v3/jwk"
)

// thumbprint computes the RFC 7638 base64url JWK thumbprint of pub, the
// value spec §4.3 step 2 calls jwk_thumbprint(account).
func thumbprint(pub crypto.PublicKey) (string, error) {
	key, err := joseJwk.Import(pub)
	if err != nil {
		return "", fmt.Errorf("import account public key as jwk: %w", err)
	}
	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("compute jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// keyAuthorization builds token + "." + thumbprint, the value spec §4.3
// step 2 calls key_authorization.
func keyAuthorization(token string, pub crypto.PublicKey) (string, error) {
	thumb, err := thumbprint(pub)
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}
