// Copyright (c) 2026 Mesteriis

package model

import "time"

// CertMeta is the in-memory description of one managed subject: its
// identity (name, SANs), how it should be issued, and where it should be
// deployed.
type CertMeta struct {
	Name           string
	CertType       CertType
	SubjectType    SubjectType
	EncryptionAlgo EncryptionAlgo
	OCSPMustStaple bool
	Disabled       bool

	// AuthorizedUntil is the minimum ACME DNS-01 authorization expiry across
	// this subject's FQDNs, or nil if never authorized / cleared. May only be
	// cleared when CertType is "local" (spec §3 invariant).
	AuthorizedUntil *time.Time

	Altnames    []string // ordered set of SAN FQDNs
	TLSAPrefixes []string

	// Disthosts maps a target FQDN to its deployment tree.
	Disthosts map[string]*DistHost

	instances []*CertInstance
}

// FQDNs returns [Name] ++ Altnames, the set ACME authorization and zone
// lookup walk (spec §4.3 step 1, §4.5).
func (cm *CertMeta) FQDNs() []string {
	out := make([]string, 0, 1+len(cm.Altnames))
	out = append(out, cm.Name)
	out = append(out, cm.Altnames...)
	return out
}

// ClearAuthorizedUntil clears AuthorizedUntil, but only for a local
// certificate (spec §3 invariant: "authorized_until may only be cleared for
// cert_type = local").
func (cm *CertMeta) ClearAuthorizedUntil() {
	if cm.CertType != CertTypeLocal {
		return
	}
	cm.AuthorizedUntil = nil
}

// IsAuthorized reports whether AuthorizedUntil is set and still in the
// future relative to now — the precondition spec §4.3 uses to decide whether
// the authorization phase needs to run at all.
func (cm *CertMeta) IsAuthorized(now time.Time) bool {
	return cm.AuthorizedUntil != nil && cm.AuthorizedUntil.After(now)
}

// Instances returns this CertMeta's instances ordered ascending by RowID.
func (cm *CertMeta) Instances() []*CertInstance {
	return InstancesByRowID(cm.instances)
}

// AddInstance appends ci to this CertMeta's instance set and sets the
// back-reference.
func (cm *CertMeta) AddInstance(ci *CertInstance) {
	ci.CM = cm
	cm.instances = append(cm.instances, ci)
}

// Instance returns a specific instance by row id if id != 0, otherwise the
// most recent active instance. Returns nil if none qualifies — the signal
// callers use to raise apperr.NoInstance (spec §4.4).
func (cm *CertMeta) Instance(id int64, now time.Time) *CertInstance {
	if id != 0 {
		for _, ci := range cm.instances {
			if ci.RowID == id {
				return ci
			}
		}
		return nil
	}
	return MostRecentActive(cm.instances, now)
}
