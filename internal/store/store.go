// Copyright (c) 2026 Mesteriis

// Package store is the relational adapter (C2): a fixed set of prepared
// operations against the PKI schema (spec §6's Certificates, Subjects,
// Services, Certificates_Services, Targets, Disthosts, Jails, Places,
// CertInstances, CertKeyData tables), backed by gorm.io/gorm over
// gorm.io/driver/postgres, matching the teacher's own pgx-via-gorm pairing.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Mesteriis/serverPKI/internal/crypto/seal"
	"github.com/Mesteriis/serverPKI/internal/model"
)

// Store is the store adapter. It holds the DB handle, the process-wide
// identity registry (spec §3/§5), and the at-rest sealing key when database
// encryption is enabled.
type Store struct {
	db       *gorm.DB
	registry *model.Registry
	sealKey  *[32]byte // nil when db encryption is disabled
}

// Open connects to dsn and returns a ready Store. registry is the
// process-wide identity map this Store's reads populate and deduplicate
// against.
func Open(dsn string, registry *model.Registry) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Store{db: db, registry: registry}, nil
}

// WithSealKey derives and attaches an at-rest sealing key from passphrase,
// enabling transparent encryption of CertKeyStore.Key on write and
// decryption on read. This is process-wide, read-only state initialised
// once at startup (spec §5).
func (s *Store) WithSealKey(passphrase, salt []byte, params seal.ScryptParams) error {
	key, err := seal.DeriveKey(passphrase, salt, params)
	if err != nil {
		return err
	}
	s.sealKey = &key
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside one serializable read-write transaction, for
// callers that must span several of this package's tx-scoped operations
// (insertCertInstanceTx, insertCertKeyDataTx, updateCertInstanceTx) as a
// single atomic write set, the way PersistIssuedInstance does internally
// for the ACME issuer's insert+key+advance sequence (spec §4.1/§5: "one
// logical operation"). No code in this module calls WithTx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.withTx(ctx, false, fn)
}

// withTx runs fn inside a transaction with the given isolation level and
// read-only-ness, matching spec §4.1's "serializable read-only" /
// "serializable read-write" transaction requirements.
func (s *Store) withTx(ctx context.Context, readOnly bool, fn func(tx *gorm.DB) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly}
	tx := s.db.WithContext(ctx).Begin(opts)
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// sealKeyPEM seals keyPEM at rest if encryption is enabled, otherwise
// returns it unchanged.
func (s *Store) sealKeyPEM(keyPEM []byte) ([]byte, error) {
	if s.sealKey == nil {
		return keyPEM, nil
	}
	return seal.Seal(keyPEM, *s.sealKey)
}

// openKeyPEM reverses sealKeyPEM.
func (s *Store) openKeyPEM(stored []byte) ([]byte, error) {
	if s.sealKey == nil {
		return stored, nil
	}
	return seal.Open(stored, *s.sealKey)
}
