// Copyright (c) 2026 Mesteriis

package model

import (
	"fmt"
	"time"
)

// CertInstance is one concrete issuance of a certificate under a CertMeta.
type CertInstance struct {
	RowID int64 // zero until first persisted

	CM    *CertMeta
	State InstanceState

	OCSPMustStaple bool
	NotBefore      time.Time
	NotAfter       time.Time

	// CACertCI is the CertInstance that signed this one. For a CA's own
	// self-signed instance, CACertCI points back to itself.
	CACertCI *CertInstance

	CKSD map[Algorithm]*CertKeyStore
}

// NewReservedInstance creates a fresh CertInstance in state "reserved" with
// no key-store entries yet, per spec §3's CI lifecycle.
func NewReservedInstance(cm *CertMeta, caCertCI *CertInstance) *CertInstance {
	return &CertInstance{
		CM:       cm,
		State:    StateReserved,
		CACertCI: caCertCI,
		CKSD:     make(map[Algorithm]*CertKeyStore),
	}
}

// Active reports whether now falls within [NotBefore, NotAfter].
func (ci *CertInstance) Active(now time.Time) bool {
	return !now.Before(ci.NotBefore) && !now.After(ci.NotAfter)
}

// SetKeyStore installs one algorithm's key-store entry, enforcing that the
// algorithm is one this instance's CertMeta actually requested and that no
// more than 1-2 distinct algorithms ever accumulate (spec §3 invariant).
func (ci *CertInstance) SetKeyStore(cks *CertKeyStore) error {
	allowed := ci.CM.EncryptionAlgo.Algorithms()
	ok := false
	for _, a := range allowed {
		if a == cks.Algorithm {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s not valid for cert_meta encryption_algo %s", ErrUnknownAlgorithm, cks.Algorithm, ci.CM.EncryptionAlgo)
	}
	if ci.CKSD == nil {
		ci.CKSD = make(map[Algorithm]*CertKeyStore)
	}
	ci.CKSD[cks.Algorithm] = cks
	return nil
}

// Validate checks the non-CA linkage invariant (spec §3/§8 property 2): every
// non-CA instance must reference a persisted CertInstance whose CertMeta is a
// CA, and a CA's own instance may reference only itself (or nothing).
func (ci *CertInstance) Validate() error {
	if ci.CM.SubjectType == SubjectCA {
		if ci.CACertCI != ci && ci.CACertCI != nil {
			// A CA instance's CACertCI is conventionally itself; any other
			// non-nil, non-self value is a modeling error.
			return fmt.Errorf("CA instance %d has non-self ca_cert_ci", ci.RowID)
		}
		return nil
	}
	if ci.CACertCI == nil {
		return fmt.Errorf("instance %d of non-CA subject %q has no ca_cert_ci", ci.RowID, ci.CM.Name)
	}
	if ci.CACertCI.RowID == 0 {
		return fmt.Errorf("instance %d's ca_cert_ci is not persisted", ci.RowID)
	}
	if ci.CACertCI.CM == nil || ci.CACertCI.CM.SubjectType != SubjectCA {
		return fmt.Errorf("instance %d's ca_cert_ci is not owned by a CA cert_meta", ci.RowID)
	}
	return nil
}

// InstancesByRowID sorts a slice of instances ascending by RowID, the
// ordering spec §3 defines for a CertMeta's instances.
func InstancesByRowID(cis []*CertInstance) []*CertInstance {
	sorted := make([]*CertInstance, len(cis))
	copy(sorted, cis)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].RowID > sorted[j].RowID; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted
}

// MostRecent returns the instance with the highest RowID, or nil if cis is empty.
func MostRecent(cis []*CertInstance) *CertInstance {
	if len(cis) == 0 {
		return nil
	}
	best := cis[0]
	for _, ci := range cis[1:] {
		if ci.RowID > best.RowID {
			best = ci
		}
	}
	return best
}

// MostRecentActive returns the most recent instance that is Active(now) and
// not revoked/expired/archived, or nil if none qualifies.
func MostRecentActive(cis []*CertInstance, now time.Time) *CertInstance {
	var best *CertInstance
	for _, ci := range cis {
		if ci.State == StateRevoked || ci.State == StateExpired || ci.State == StateArchived {
			continue
		}
		if !ci.Active(now) {
			continue
		}
		if best == nil || ci.RowID > best.RowID {
			best = ci
		}
	}
	return best
}
