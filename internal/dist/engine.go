// Copyright (c) 2026 Mesteriis

package dist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/config"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

// Target pairs a CertMeta with the certificate row id the store needs to
// persist state changes against — CertMeta itself carries no row id.
type Target struct {
	CertificateRowID int64
	CM               *model.CertMeta
}

// Engine runs the deploy phase (spec §4.4): plan files for each target,
// upload them, promote reachable instances to "deployed", publish TLSA,
// and clear authorized_until for local subjects — grounded on
// certdist.py's deployCerts driver loop.
type Engine struct {
	Store     *store.Store
	Zone      *zone.Publisher
	Transport *Transport
}

// Deploy runs the full deploy phase across targets, continuing past a
// single target's failure so the rest of the run still makes progress, and
// performs exactly one SOA bump + reload at the end regardless of how many
// targets were touched.
func (e *Engine) Deploy(ctx context.Context, targets []Target, filters config.DistFilters, now time.Time) error {
	hostFilter := buildHostFilter(filters)
	var errs []error

	for _, t := range targets {
		if err := e.deployOne(ctx, t, hostFilter, filters, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.CM.Name, err))
		}
	}

	if err := e.Zone.BumpAndReload(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return apperr.New("dist.Deploy", apperr.TransportError, errors.Join(errs...))
}

func (e *Engine) deployOne(ctx context.Context, t Target, hostFilter func(string) bool, filters config.DistFilters, now time.Time) error {
	ci := t.CM.Instance(filters.InstanceID, now)
	if ci == nil {
		return apperr.New("dist.deployOne", apperr.NoInstance, fmt.Errorf("no active instance for %s", t.CM.Name))
	}

	files, omittedHost, err := PlanCertMeta(t.CM, ci, hostFilter)
	if err != nil {
		return err
	}

	if err := e.Transport.UploadAll(files); err != nil {
		return err
	}

	// Promotion is all-or-nothing across the whole CM (spec §9's safer
	// reading of host_omitted): any filtered-out host blocks "deployed".
	if !omittedHost {
		ci.State = model.StateDeployed
		if err := e.Store.UpdateCertInstance(ctx, ci); err != nil {
			return apperr.New("dist.deployOne", apperr.PersistenceFailure, err)
		}
	}

	if t.CM.CertType == model.CertTypeLocal {
		t.CM.ClearAuthorizedUntil()
		if err := e.Store.UpdateAuthorizedUntil(ctx, t.CertificateRowID, model.CertTypeLocal, nil); err != nil {
			return apperr.New("dist.deployOne", apperr.PersistenceFailure, err)
		}
	}

	if !filters.NoTLSA {
		if hash := activeHash(ci); hash != "" {
			if err := e.Zone.PublishTLSA(t.CM, hash, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// activeHash picks one algorithm's fingerprint to publish when a CM
// requests both RSA and EC: EC is preferred when both are present. Spec
// §6's TLSA model is per-FQDN, not per-algorithm, so only one record set is
// published per deploy; which algorithm wins is an implementation choice,
// not a spec-mandated one.
func activeHash(ci *model.CertInstance) string {
	if cks, ok := ci.CKSD[model.AlgEC]; ok {
		return cks.Hash
	}
	if cks, ok := ci.CKSD[model.AlgRSA]; ok {
		return cks.Hash
	}
	return ""
}

// buildHostFilter turns DistFilters into the predicate PlanCertMeta needs.
// A host in SkipHost is always excluded; when OnlyHost is non-empty, every
// host not listed there is excluded as well.
func buildHostFilter(filters config.DistFilters) func(fqdn string) bool {
	if len(filters.OnlyHost) == 0 && len(filters.SkipHost) == 0 {
		return nil
	}
	only := toSet(filters.OnlyHost)
	skip := toSet(filters.SkipHost)
	return func(fqdn string) bool {
		if skip[fqdn] {
			return false
		}
		if len(only) > 0 {
			return only[fqdn]
		}
		return true
	}
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
