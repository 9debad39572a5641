// Copyright (c) 2026 Mesteriis

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "serverpki.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadHappyPath(t *testing.T) {
	t.Parallel()

	zoneRoot := t.TempDir()
	path := writeConfig(t, "database_dsn: \"postgres://localhost/pki\"\nzone_root: \""+zoneRoot+"\"\n")

	s, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/pki", s.DatabaseDSN)
	require.Equal(t, 2048, s.RSABits)
	require.Equal(t, "P-256", s.ECCurve)
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "rsa_bits: 2048\n")
	s, err := config.Load(path)
	require.Error(t, err)
	require.Nil(t, s)
	require.Contains(t, err.Error(), "serverpki settings validation failed")
	require.Contains(t, err.Error(), "database_dsn is required")
}

func TestLoadRejectsRemoteDNSMaster(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "database_dsn: \"postgres://localhost/pki\"\nremote_dns_master: true\n")
	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "remote_dns_master is not supported")
}

func TestLoadRejectsEncryptionWithoutPassphrase(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "database_dsn: \"postgres://localhost/pki\"\ndb_encryption: true\n")
	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "db_passphrase is required")
}
