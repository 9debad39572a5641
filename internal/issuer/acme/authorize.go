// Copyright (c) 2026 Mesteriis

package acme

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

// Authorizer drives the DNS-01 authorization phase: §4.3 steps 1-8.
type Authorizer struct {
	Client Operations
	Zone   *zone.Publisher

	// Sleep, PostDNSDelay and PollInterval are overridable so tests can run
	// the state machine without the real 10s/5s waits spec §4.3 specifies.
	Sleep        func(time.Duration)
	PostDNSDelay time.Duration
	PollInterval time.Duration

	// PersistAuthorizedUntil writes the CM's new authorized_until. It is
	// called at step 6, before the teardown reload of step 7 — the ordering
	// spec §5 requires ("authorized_until write MUST happen before the
	// authorization-teardown DNS reload").
	PersistAuthorizedUntil func(ctx context.Context, until time.Time) error
}

// NewAuthorizer returns an Authorizer with the spec-mandated 10s post-DNS
// delay and 5s poll interval.
func NewAuthorizer(client Operations, publisher *zone.Publisher) *Authorizer {
	return &Authorizer{
		Client:       client,
		Zone:         publisher,
		Sleep:        time.Sleep,
		PostDNSDelay: 10 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

type fqdnAuthz struct {
	fqdn    string
	authz   *Authorization
	txt     string
	expires time.Time
	failed  bool
	failErr error
}

// Authorize runs the full authorization phase for cm and returns the
// minimum authorization expiry across FQDNs. It is a no-op returning
// cm.AuthorizedUntil unchanged when cm.IsAuthorized(now) already holds.
func (a *Authorizer) Authorize(ctx context.Context, cm *model.CertMeta, now time.Time) (time.Time, error) {
	if cm.IsAuthorized(now) {
		return *cm.AuthorizedUntil, nil
	}

	fqdns := cm.FQDNs()
	entries := make([]*fqdnAuthz, 0, len(fqdns))

	// Step 1-2: request an authorization and compute the DNS-01 response
	// for every FQDN.
	for _, fqdn := range fqdns {
		authz, err := a.Client.NewAuthorization(ctx, fqdn)
		if err != nil {
			return time.Time{}, err
		}
		keyAuth, err := keyAuthorization(authz.Token, a.Client.AccountPublicKey())
		if err != nil {
			return time.Time{}, apperr.New("acme.Authorize", apperr.AcmeProtocol, err)
		}
		sum := sha256.Sum256([]byte(keyAuth))
		entries = append(entries, &fqdnAuthz{
			fqdn:  fqdn,
			authz: authz,
			txt:   base64.RawURLEncoding.EncodeToString(sum[:]),
		})
	}

	// Step 3: write one include file per zone, cache, bump SOA and reload.
	groups, err := a.Zone.GroupByZone(fqdns)
	if err != nil {
		return time.Time{}, err
	}
	txtByFQDN := make(map[string]string, len(entries))
	for _, e := range entries {
		txtByFQDN[e.fqdn] = e.txt
	}
	for z, zoneFQDNs := range groups {
		if err := a.Zone.WriteChallengeInclude(z, txtByFQDN, zoneFQDNs); err != nil {
			return time.Time{}, err
		}
	}
	if err := a.Zone.BumpAndReload(); err != nil {
		return time.Time{}, err
	}

	// Step 4: let the DNS propagate.
	a.Sleep(a.PostDNSDelay)

	// Step 5: notify and poll each FQDN to a terminal status.
	for _, e := range entries {
		if err := a.Client.ValidateAuthorization(ctx, e.authz.ChallengeURI); err != nil {
			e.failed = true
			e.failErr = err
			continue
		}
		status, expires, err := a.poll(ctx, e.authz.URI)
		if err != nil {
			e.failed = true
			e.failErr = err
			continue
		}
		if status != "valid" {
			e.failed = true
			e.failErr = apperr.New("acme.Authorize", apperr.AuthorizationFailed, fmt.Errorf("%s: authorization status %q", e.fqdn, status))
			continue
		}
		e.expires = expires
	}

	// Step 6: minimum expiry across FQDNs.
	var minExpiry time.Time
	anyFailed := false
	for _, e := range entries {
		if e.failed {
			anyFailed = true
			continue
		}
		if minExpiry.IsZero() || e.expires.Before(minExpiry) {
			minExpiry = e.expires
		}
	}

	// Step 6 (write): persist the new authorized_until before any teardown
	// reload happens, per the ordering guarantee in spec §5.
	if !minExpiry.IsZero() && a.PersistAuthorizedUntil != nil {
		if perr := a.PersistAuthorizedUntil(ctx, minExpiry); perr != nil && err == nil {
			err = perr
		}
	}

	// Step 7: teardown runs regardless of step 5/6 outcome.
	for z := range groups {
		if terr := a.Zone.TruncateChallengeInclude(z); terr != nil && err == nil {
			err = terr
		}
	}
	if rerr := a.Zone.BumpAndReload(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return time.Time{}, err
	}

	// Step 8: fail overall if any FQDN failed.
	if anyFailed {
		return time.Time{}, apperr.New("acme.Authorize", apperr.AuthorizationFailed, firstFailure(entries))
	}
	return minExpiry, nil
}

func (a *Authorizer) poll(ctx context.Context, uri string) (status string, expires time.Time, err error) {
	for {
		authz, err := a.Client.GetAuthorization(ctx, uri)
		if err != nil {
			return "", time.Time{}, err
		}
		if authz.Status != "pending" {
			return authz.Status, authz.Expires, nil
		}
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		default:
		}
		a.Sleep(a.PollInterval)
	}
}

func firstFailure(entries []*fqdnAuthz) error {
	for _, e := range entries {
		if e.failed {
			return e.failErr
		}
	}
	return nil
}
