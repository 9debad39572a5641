// Copyright (c) 2026 Mesteriis

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/model"
)

// EnsureCertificateRow returns the certificates.id for name, inserting a
// fresh row from cm if none exists yet. Used when the coordinator mints a
// CA CertMeta on the fly for a previously-unseen ACME intermediate (spec
// §4.3 note: the coordinator, not the acme package, owns that policy).
func (s *Store) EnsureCertificateRow(ctx context.Context, cm *model.CertMeta) (int64, error) {
	var id int64
	err := s.withTx(ctx, false, func(tx *gorm.DB) error {
		var row certificateRow
		err := tx.Where("name = ?", cm.Name).First(&row).Error
		if err == nil {
			id = row.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row = certificateRow{
			Name:           cm.Name,
			CertType:       string(cm.CertType),
			SubjectType:    string(cm.SubjectType),
			EncryptionAlgo: string(cm.EncryptionAlgo),
			OCSPMustStaple: cm.OCSPMustStaple,
			Disabled:       cm.Disabled,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err != nil {
		return 0, apperr.New("store.EnsureCertificateRow", apperr.PersistenceFailure, err)
	}
	return id, nil
}

// LoadCertMeta loads the named subject, its altnames, and its full
// deployment tree (services -> places, targets -> jails -> disthosts),
// interning the result against the Store's registry (spec §3/§6
// "load_cert_meta"). A second call for the same name returns the same
// *model.CertMeta without touching the database again.
func (s *Store) LoadCertMeta(ctx context.Context, name string) (*model.CertMeta, error) {
	if cm := s.registry.Lookup(name); cm != nil {
		return cm, nil
	}

	var cm *model.CertMeta
	err := s.withTx(ctx, true, func(tx *gorm.DB) error {
		var row certificateRow
		if err := tx.Where("name = ?", name).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New("store.LoadCertMeta", apperr.NotFound, err)
			}
			return err
		}

		var subjects []subjectRow
		if err := tx.Where("certificate_id = ?", row.ID).Order("sort_order").Find(&subjects).Error; err != nil {
			return err
		}
		altnames := make([]string, 0, len(subjects))
		for _, sub := range subjects {
			altnames = append(altnames, sub.FQDN)
		}

		disthosts, err := loadDisthostTree(tx, row.ID)
		if err != nil {
			return err
		}

		built := &model.CertMeta{
			Name:           row.Name,
			CertType:       model.CertType(row.CertType),
			SubjectType:    model.SubjectType(row.SubjectType),
			EncryptionAlgo: model.EncryptionAlgo(row.EncryptionAlgo),
			OCSPMustStaple: row.OCSPMustStaple,
			Disabled:       row.Disabled,
			AuthorizedUntil: row.AuthorizedUntil,
			Altnames:       altnames,
			Disthosts:      disthosts,
		}
		cm = s.registry.Intern(name, built)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cm, nil
}

// loadDisthostTree resolves a certificate's full deployment graph: which
// services it belongs to (certificates_services), each service's places,
// and which disthost/jail targets that service deploys to.
func loadDisthostTree(tx *gorm.DB, certificateID int64) (map[string]*model.DistHost, error) {
	var links []certificatesServicesRow
	if err := tx.Where("certificate_id = ?", certificateID).Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return map[string]*model.DistHost{}, nil
	}

	serviceIDs := make([]int64, 0, len(links))
	for _, l := range links {
		serviceIDs = append(serviceIDs, l.ServiceID)
	}

	var places []placeRow
	if err := tx.Where("service_id IN ?", serviceIDs).Find(&places).Error; err != nil {
		return nil, err
	}
	placesByService := make(map[int64][]placeRow)
	for _, p := range places {
		placesByService[p.ServiceID] = append(placesByService[p.ServiceID], p)
	}

	var targets []targetRow
	if err := tx.Where("service_id IN ?", serviceIDs).Find(&targets).Error; err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return map[string]*model.DistHost{}, nil
	}

	jailIDs := make([]int64, 0, len(targets))
	for _, t := range targets {
		jailIDs = append(jailIDs, t.JailID)
	}
	var jails []jailRow
	if err := tx.Where("id IN ?", jailIDs).Find(&jails).Error; err != nil {
		return nil, err
	}
	jailByID := make(map[int64]jailRow, len(jails))
	disthostIDs := make([]int64, 0, len(jails))
	for _, j := range jails {
		jailByID[j.ID] = j
		disthostIDs = append(disthostIDs, j.DisthostID)
	}

	var hosts []disthostRow
	if err := tx.Where("id IN ?", disthostIDs).Find(&hosts).Error; err != nil {
		return nil, err
	}
	hostByID := make(map[int64]disthostRow, len(hosts))
	for _, h := range hosts {
		hostByID[h.ID] = h
	}

	result := make(map[string]*model.DistHost)
	for _, t := range targets {
		jail, ok := jailByID[t.JailID]
		if !ok {
			continue
		}
		host, ok := hostByID[jail.DisthostID]
		if !ok {
			continue
		}
		dh, ok := result[host.FQDN]
		if !ok {
			dh = &model.DistHost{FQDN: host.FQDN, JailRoot: host.JailRoot, Jails: map[string]*model.Jail{}}
			result[host.FQDN] = dh
		}
		j, ok := dh.Jails[jail.Name]
		if !ok {
			j = &model.Jail{Name: jail.Name, Places: map[string]*model.Place{}}
			dh.Jails[jail.Name] = j
		}
		for _, p := range placesByService[t.ServiceID] {
			j.Places[p.Name] = &model.Place{
				Name:          p.Name,
				CertFileType:  model.CertFileType(p.CertFileType),
				CertPath:      p.CertPath,
				KeyPath:       p.KeyPath,
				UID:           p.UID,
				GID:           p.GID,
				Mode:          p.Mode,
				ChownBoth:     p.ChownBoth,
				PGLink:        p.PGLink,
				ReloadCommand: p.ReloadCommand,
			}
		}
	}
	return result, nil
}

// ListInstances returns a certificate's instance row ids, ascending, per
// spec §6 "list_instances".
func (s *Store) ListInstances(ctx context.Context, certificateRowID int64) ([]int64, error) {
	var ids []int64
	err := s.withTx(ctx, true, func(tx *gorm.DB) error {
		return tx.Model(&certInstanceRow{}).
			Where("certificate_id = ?", certificateRowID).
			Order("id").
			Pluck("id", &ids).Error
	})
	return ids, err
}

// LoadInstance loads one CertInstance and its key-store entries by row id,
// per spec §6 "load_instance". cm is the already-loaded CertMeta this
// instance belongs to.
func (s *Store) LoadInstance(ctx context.Context, instanceRowID int64, cm *model.CertMeta) (*model.CertInstance, error) {
	var ci *model.CertInstance
	err := s.withTx(ctx, true, func(tx *gorm.DB) error {
		var row certInstanceRow
		if err := tx.First(&row, instanceRowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New("store.LoadInstance", apperr.NoInstance, err)
			}
			return err
		}

		built := &model.CertInstance{
			RowID:          row.ID,
			CM:             cm,
			State:          model.InstanceState(row.State),
			OCSPMustStaple: row.OCSPMustStaple,
			NotBefore:      row.NotBefore,
			NotAfter:       row.NotAfter,
			CKSD:           make(map[model.Algorithm]*model.CertKeyStore),
		}
		if row.CACertInstanceID != nil {
			if *row.CACertInstanceID == row.ID {
				built.CACertCI = built
			} else {
				var caRow certInstanceRow
				if err := tx.First(&caRow, *row.CACertInstanceID).Error; err != nil {
					return err
				}
				built.CACertCI = &model.CertInstance{RowID: caRow.ID, State: model.InstanceState(caRow.State)}
			}
		}

		var keyRows []certKeyDataRow
		if err := tx.Where("cert_instance_id = ?", row.ID).Find(&keyRows).Error; err != nil {
			return err
		}
		for _, kr := range keyRows {
			cks := s.registry.InternKeyStore(&model.CertKeyStore{
				Algorithm: model.Algorithm(kr.Algorithm),
				Cert:      kr.Cert,
				Key:       mustOpen(s, kr.Key),
				Hash:      kr.Hash,
			})
			built.CKSD[cks.Algorithm] = cks
		}
		ci = built
		return nil
	})
	return ci, err
}

func mustOpen(s *Store, stored []byte) []byte {
	opened, err := s.openKeyPEM(stored)
	if err != nil {
		// Corrupt or wrongly-keyed material; surface as empty rather than
		// panicking mid read transaction. Callers that need the key will
		// fail loudly when they try to use it.
		return nil
	}
	return opened
}

// InsertCertInstance inserts a new non-CA instance in state "reserved",
// per spec §6 "insert_cert_instance". ci.CACertCI must already be
// persisted.
func (s *Store) InsertCertInstance(ctx context.Context, certificateRowID int64, ci *model.CertInstance) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return insertCertInstanceTx(tx, certificateRowID, ci)
	})
}

func insertCertInstanceTx(tx *gorm.DB, certificateRowID int64, ci *model.CertInstance) error {
	if ci.CACertCI == nil || ci.CACertCI.RowID == 0 {
		return apperr.New("store.InsertCertInstance", apperr.Configuration, nil)
	}
	row := certInstanceRow{
		CertificateID:    certificateRowID,
		State:            string(ci.State),
		OCSPMustStaple:   ci.OCSPMustStaple,
		NotBefore:        ci.NotBefore,
		NotAfter:         ci.NotAfter,
		CACertInstanceID: &ci.CACertCI.RowID,
	}
	if err := tx.Create(&row).Error; err != nil {
		return err
	}
	ci.RowID = row.ID
	return nil
}

// InsertCACertInstance inserts a self-signed CA root instance using the
// portable two-step pattern spec §9 recommends in place of a
// currval()-style trick: insert with a NULL self-reference, then update it
// to point at its own freshly assigned id, all within one transaction.
func (s *Store) InsertCACertInstance(ctx context.Context, certificateRowID int64, ci *model.CertInstance) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		row := certInstanceRow{
			CertificateID:  certificateRowID,
			State:          string(ci.State),
			OCSPMustStaple: ci.OCSPMustStaple,
			NotBefore:      ci.NotBefore,
			NotAfter:       ci.NotAfter,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&certInstanceRow{}).Where("id = ?", row.ID).Update("ca_cert_instance_id", row.ID).Error; err != nil {
			return err
		}
		ci.RowID = row.ID
		ci.CACertCI = ci
		return nil
	})
}

// UpdateCertInstance persists state, validity window, and must-staple flag
// changes for an already-persisted instance, per spec §6
// "update_cert_instance".
func (s *Store) UpdateCertInstance(ctx context.Context, ci *model.CertInstance) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return updateCertInstanceTx(tx, ci)
	})
}

func updateCertInstanceTx(tx *gorm.DB, ci *model.CertInstance) error {
	if ci.RowID == 0 {
		return apperr.New("store.UpdateCertInstance", apperr.Configuration, nil)
	}
	return tx.Model(&certInstanceRow{}).Where("id = ?", ci.RowID).Updates(map[string]any{
		"state":            string(ci.State),
		"ocsp_must_staple": ci.OCSPMustStaple,
		"not_before":       ci.NotBefore,
		"not_after":        ci.NotAfter,
	}).Error
}

// DeleteCertInstance removes an instance and cascades to its key-store
// rows, per spec §6 "delete_cert_instance" — the rollback path an issuer
// takes when issuance fails after reservation.
func (s *Store) DeleteCertInstance(ctx context.Context, instanceRowID int64) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return deleteCertInstanceTx(tx, instanceRowID)
	})
}

func deleteCertInstanceTx(tx *gorm.DB, instanceRowID int64) error {
	if err := tx.Where("cert_instance_id = ?", instanceRowID).Delete(&certKeyDataRow{}).Error; err != nil {
		return err
	}
	return tx.Delete(&certInstanceRow{}, instanceRowID).Error
}

// InsertCertKeyData persists a new algorithm entry for an instance, per
// spec §6 "insert_cert_key_data". Key material is sealed at rest if the
// Store has a seal key attached.
func (s *Store) InsertCertKeyData(ctx context.Context, instanceRowID int64, cks *model.CertKeyStore) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return s.insertCertKeyDataTx(tx, instanceRowID, cks)
	})
}

func (s *Store) insertCertKeyDataTx(tx *gorm.DB, instanceRowID int64, cks *model.CertKeyStore) error {
	sealed, err := s.sealKeyPEM(cks.Key)
	if err != nil {
		return err
	}
	return tx.Create(&certKeyDataRow{
		CertInstanceID: instanceRowID,
		Algorithm:      string(cks.Algorithm),
		Cert:           cks.Cert,
		Key:            sealed,
		Hash:           cks.Hash,
	}).Error
}

// PersistIssuedInstance inserts ci and every one of ckses, then advances ci
// to its current State, all inside one serializable read-write transaction
// (spec §4.1/§5: reserve+key+advance is one logical operation). Callers
// should only invoke this once every network round trip issuance needed has
// already succeeded — there is nothing left to roll back if this fails, so
// no partial instance is ever visible.
func (s *Store) PersistIssuedInstance(ctx context.Context, certificateRowID int64, ci *model.CertInstance, ckses []*model.CertKeyStore) error {
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		if err := insertCertInstanceTx(tx, certificateRowID, ci); err != nil {
			return err
		}
		for _, cks := range ckses {
			if err := s.insertCertKeyDataTx(tx, ci.RowID, cks); err != nil {
				return err
			}
		}
		return updateCertInstanceTx(tx, ci)
	})
}

// UpdateCertKeyData overwrites an existing algorithm entry's cert/key/hash,
// per spec §6 "update_cert_key_data" — used when re-keying without
// reserving a new instance.
func (s *Store) UpdateCertKeyData(ctx context.Context, instanceRowID int64, cks *model.CertKeyStore) error {
	sealed, err := s.sealKeyPEM(cks.Key)
	if err != nil {
		return err
	}
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return tx.Model(&certKeyDataRow{}).
			Where("cert_instance_id = ? AND algorithm = ?", instanceRowID, string(cks.Algorithm)).
			Updates(map[string]any{"cert": cks.Cert, "key": sealed, "hash": cks.Hash}).Error
	})
}

// UpdateAuthorizedUntil persists a CertMeta's authorization expiry, per
// spec §6 "update_authorized_until". Mirrors the source assertion "until
// or cert_type == local": a nil until is only legal for a local subject.
func (s *Store) UpdateAuthorizedUntil(ctx context.Context, certificateRowID int64, certType model.CertType, until *time.Time) error {
	if until == nil && certType != model.CertTypeLocal {
		return apperr.New("store.UpdateAuthorizedUntil", apperr.Configuration, nil)
	}
	return s.withTx(ctx, false, func(tx *gorm.DB) error {
		return tx.Model(&certificateRow{}).Where("id = ?", certificateRowID).Update("authorized_until", until).Error
	})
}

// FQDNFromInstanceID resolves an instance row id back to its owning
// subject's name, per spec §6 "fqdn_from_instance_id". The distribution
// engine does not call it; --instance-id is resolved against the already
// loaded CertMeta's instances.
func (s *Store) FQDNFromInstanceID(ctx context.Context, instanceRowID int64) (string, error) {
	var name string
	err := s.withTx(ctx, true, func(tx *gorm.DB) error {
		var row certInstanceRow
		if err := tx.First(&row, instanceRowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New("store.FQDNFromInstanceID", apperr.NoInstance, err)
			}
			return err
		}
		var cert certificateRow
		if err := tx.First(&cert, row.CertificateID).Error; err != nil {
			return err
		}
		name = cert.Name
		return nil
	})
	return name, err
}
