// Copyright (c) 2026 Mesteriis

package dist

import (
	"fmt"
	"path"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/model"
)

// PlannedFile is one file this engine must write to one (host, jail, place).
type PlannedFile struct {
	FQDN    string
	Jail    string
	DestDir string
	Place   *model.Place

	Spec    FileSpec
	Content []byte
}

// bundleContent returns the key/cert/chain PEM bytes a CertInstance's
// key-store entry for algo carries, grounded on certdist.py's per-algorithm
// fd_key/fd_cert/fd_cacert reads.
func bundleContent(ci *model.CertInstance, algo model.Algorithm) (key, cert, caCert []byte, err error) {
	cks, ok := ci.CKSD[algo]
	if !ok {
		return nil, nil, nil, fmt.Errorf("instance has no key-store entry for algorithm %s", algo)
	}
	key = cks.Key
	cert = cks.Cert
	if ci.CACertCI != nil && ci.CACertCI != ci {
		caCKS, ok := ci.CACertCI.CKSD[algo]
		if ok {
			caCert = caCKS.Cert
		}
	}
	return key, cert, caCert, nil
}

// planPlace builds the files one Place requires for one algorithm's key
// material, following the cert_file_type table of spec §4.4. subject is
// the CM name — filenames are always computed from the certificate's
// subject, never from the destination host's FQDN.
// The key file's destination directory is place.KeyPath when set,
// overriding only the key's directory — every other file goes to destDir.
func planPlace(fqdn, subject, jail, destDir string, place *model.Place, subjectType model.SubjectType, certType model.CertType, key, cert, caCert []byte) ([]PlannedFile, error) {
	keyDestDir := destDir
	if place.KeyPath != "" {
		keyDestDir = place.KeyPath
	}

	var out []PlannedFile
	add := func(dir string, spec FileSpec, content []byte) {
		out = append(out, PlannedFile{FQDN: fqdn, Jail: jail, DestDir: dir, Place: place, Spec: spec, Content: content})
	}

	switch place.CertFileType {
	case model.CertFileCertOnly:
		add(destDir, filenameFor(RoleCert, subject, subjectType), cert)

	case model.CertFileSeparate:
		add(keyDestDir, filenameFor(RoleKey, subject, subjectType), key)
		add(destDir, filenameFor(RoleCert, subject, subjectType), cert)
		if certType == model.CertTypeLE && len(caCert) > 0 {
			add(destDir, filenameFor(RoleCertCACertChain, subject, subjectType), append(append([]byte{}, cert...), caCert...))
		}

	case model.CertFileCombineKey:
		add(keyDestDir, filenameFor(RoleKeyCert, subject, subjectType), append(append([]byte{}, key...), cert...))
		if certType == model.CertTypeLE && len(caCert) > 0 {
			add(destDir, filenameFor(RoleCertCACertChain, subject, subjectType), append(append([]byte{}, cert...), caCert...))
		}

	case model.CertFileCombineBoth:
		add(keyDestDir, filenameFor(RoleKeyCertCACert, subject, subjectType), append(append(append([]byte{}, key...), cert...), caCert...))

	case model.CertFileCombineCACert:
		add(keyDestDir, filenameFor(RoleKey, subject, subjectType), key)
		add(destDir, filenameFor(RoleCertCACert, subject, subjectType), append(append([]byte{}, cert...), caCert...))

	default:
		return nil, apperr.New("dist.planPlace", apperr.Configuration, fmt.Errorf("unknown cert_file_type %q", place.CertFileType))
	}
	return out, nil
}

// PlanCertMeta builds the full set of PlannedFile values for every
// (disthost, jail, place) cm targets, for ci's key material. hostFilter
// decides whether a given FQDN is included at all (spec §4.4 --only-host /
// --skip-host); a false return for any host sets omittedHost so the caller
// can apply the all-or-nothing promotion rule (spec §9).
func PlanCertMeta(cm *model.CertMeta, ci *model.CertInstance, hostFilter func(fqdn string) bool) (files []PlannedFile, omittedHost bool, err error) {
	for fqdn, host := range cm.Disthosts {
		if hostFilter != nil && !hostFilter(fqdn) {
			omittedHost = true
			continue
		}
		for _, jail := range host.JailList() {
			destRoot := host.DestRoot(jail)
			if len(jail.Places) == 0 {
				return nil, false, apperr.New("dist.PlanCertMeta", apperr.MissingPlace, fmt.Errorf("%s: jail %q has no places", fqdn, jail.Name))
			}
			for _, place := range jail.Places {
				for _, algo := range cm.EncryptionAlgo.Algorithms() {
					key, cert, caCert, berr := bundleContent(ci, algo)
					if berr != nil {
						return nil, false, apperr.New("dist.PlanCertMeta", apperr.NoInstance, berr)
					}
					destDir := path.Join(destRoot, place.ExpandCertPath(cm.Name))
					planned, perr := planPlace(fqdn, cm.Name, jail.Name, destDir, place, cm.SubjectType, cm.CertType, key, cert, caCert)
					if perr != nil {
						return nil, false, perr
					}
					files = append(files, planned...)
				}
			}
		}
	}
	return files, omittedHost, nil
}
