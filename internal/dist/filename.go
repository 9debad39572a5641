// Copyright (c) 2026 Mesteriis

// Package dist implements the distribution engine (C6): per-CM file bundle
// planning, SFTP transfer with ownership/mode handling and compatibility
// symlinks, and bounded-timeout reload command execution. Naming and
// transfer sequencing follow the retrieval pack's certdist.py; file
// classification is a tagged enum rather than the source's substring
// inspection (spec §9 redesign note).
package dist

import (
	"fmt"

	"github.com/Mesteriis/serverPKI/internal/model"
)

// FileRole tags what a planned file contains, replacing the source's
// `"key" in filename` substring check with an explicit, total function of
// cert_file_type (spec §9).
type FileRole int

const (
	RoleKey FileRole = iota
	RoleCert
	RoleCertCACertChain
	RoleKeyCert
	RoleKeyCertCACert
	RoleCertCACert
)

// ContainsKeyMaterial reports whether files of this role carry private key
// bytes — the property the source used substring matching to approximate.
func (r FileRole) ContainsKeyMaterial() bool {
	switch r {
	case RoleKey, RoleKeyCert, RoleKeyCertCACert:
		return true
	default:
		return false
	}
}

// FileSpec names one file this engine may write for a given subject.
type FileSpec struct {
	Role FileRole
	Name string
}

func keyName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_key.pem", subject, subjectType)
}

func certName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_cert.pem", subject, subjectType)
}

func certCACertChainName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_cert_cacert_chain.pem", subject, subjectType)
}

func keyCertName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_key_cert.pem", subject, subjectType)
}

func keyCertCACertName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_key_cert_cacert.pem", subject, subjectType)
}

func certCACertName(subject string, subjectType model.SubjectType) string {
	return fmt.Sprintf("%s_%s_cert_cacert.pem", subject, subjectType)
}

// filenameFor returns the FileSpec for role given subject/subjectType,
// total over every (role) pair (spec §8 "filename function law").
func filenameFor(role FileRole, subject string, subjectType model.SubjectType) FileSpec {
	switch role {
	case RoleKey:
		return FileSpec{Role: role, Name: keyName(subject, subjectType)}
	case RoleCert:
		return FileSpec{Role: role, Name: certName(subject, subjectType)}
	case RoleCertCACertChain:
		return FileSpec{Role: role, Name: certCACertChainName(subject, subjectType)}
	case RoleKeyCert:
		return FileSpec{Role: role, Name: keyCertName(subject, subjectType)}
	case RoleKeyCertCACert:
		return FileSpec{Role: role, Name: keyCertCACertName(subject, subjectType)}
	case RoleCertCACert:
		return FileSpec{Role: role, Name: certCACertName(subject, subjectType)}
	default:
		return FileSpec{}
	}
}
