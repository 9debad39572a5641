// Copyright (c) 2026 Mesteriis

package acme

import (
	"context"
	"crypto"
	"fmt"
	"time"

	xacme "golang.org/x/crypto/acme"

	"github.com/Mesteriis/serverPKI/internal/apperr"
)

// Authorization is the subset of ACME authorization state the authorizer
// needs, named after spec §6's new_authorization/get_authorization contract.
type Authorization struct {
	URI          string
	Status       string
	ChallengeURI string
	Token        string
	Expires      time.Time
}

// Operations is the ACME client contract spec §6 assumes is available:
// new_authorization, validate_authorization, get_authorization,
// issue_certificate. Isolating it behind an interface keeps the authorizer
// and issuer logic testable without a live ACME server.
type Operations interface {
	NewAuthorization(ctx context.Context, fqdn string) (*Authorization, error)
	ValidateAuthorization(ctx context.Context, challengeURI string) error
	GetAuthorization(ctx context.Context, uri string) (*Authorization, error)
	IssueCertificate(ctx context.Context, csrDER []byte) (leafDER, intermediateDER []byte, err error)
	AccountPublicKey() crypto.PublicKey
}

// Client is the concrete Operations implementation backed by
// golang.org/x/crypto/acme.
type Client struct {
	AccountKey crypto.Signer
	inner      *xacme.Client
}

// NewClient builds a Client against directoryURL using accountKey as the
// ACME account key (spec §4.3 "Inputs": an ACME account loaded from disk).
func NewClient(directoryURL string, accountKey crypto.Signer) *Client {
	return &Client{
		AccountKey: accountKey,
		inner:      &xacme.Client{Key: accountKey, DirectoryURL: directoryURL},
	}
}

// AccountPublicKey returns the ACME account's public key, used to compute
// the JWK thumbprint for DNS-01 key authorizations.
func (c *Client) AccountPublicKey() crypto.PublicKey {
	return c.AccountKey.Public()
}

// NewAuthorization requests a new authorization for fqdn and picks the
// dns-01 challenge, failing with UnsupportedChallenge if none is offered
// (spec §4.3 step 2).
func (c *Client) NewAuthorization(ctx context.Context, fqdn string) (*Authorization, error) {
	authz, err := c.inner.Authorize(ctx, fqdn)
	if err != nil {
		return nil, apperr.New("acme.NewAuthorization", apperr.AcmeTransport, err)
	}
	for _, chal := range authz.Challenges {
		if chal.Type == "dns-01" {
			return &Authorization{
				URI:          authz.URI,
				Status:       authz.Status,
				ChallengeURI: chal.URI,
				Token:        chal.Token,
				Expires:      authz.Expires,
			}, nil
		}
	}
	return nil, apperr.New("acme.NewAuthorization", apperr.UnsupportedChallenge, fmt.Errorf("no dns-01 challenge offered for %s", fqdn))
}

// ValidateAuthorization notifies the server the dns-01 challenge at
// challengeURI is ready to be checked (spec §4.3 step 5, "notify").
func (c *Client) ValidateAuthorization(ctx context.Context, challengeURI string) error {
	_, err := c.inner.Accept(ctx, &xacme.Challenge{URI: challengeURI, Type: "dns-01"})
	if err != nil {
		return apperr.New("acme.ValidateAuthorization", apperr.AcmeTransport, err)
	}
	return nil
}

// GetAuthorization polls the authorization's current status (spec §4.3
// step 5's poll loop).
func (c *Client) GetAuthorization(ctx context.Context, uri string) (*Authorization, error) {
	authz, err := c.inner.GetAuthorization(ctx, uri)
	if err != nil {
		return nil, apperr.New("acme.GetAuthorization", apperr.AcmeTransport, err)
	}
	return &Authorization{URI: authz.URI, Status: authz.Status, Expires: authz.Expires}, nil
}

// IssueCertificate submits csrDER and returns the leaf and intermediate DER
// certificates (spec §4.3 issuance phase, §6 issue_certificate).
func (c *Client) IssueCertificate(ctx context.Context, csrDER []byte) (leafDER []byte, intermediateDER []byte, err error) {
	ders, _, err := c.inner.CreateCert(ctx, csrDER, 0, true)
	if err != nil {
		return nil, nil, apperr.New("acme.IssueCertificate", apperr.AcmeTransport, err)
	}
	if len(ders) == 0 {
		return nil, nil, apperr.New("acme.IssueCertificate", apperr.AcmeProtocol, fmt.Errorf("empty certificate chain returned"))
	}
	leafDER = ders[0]
	if len(ders) > 1 {
		intermediateDER = ders[1]
	}
	return leafDER, intermediateDER, nil
}
