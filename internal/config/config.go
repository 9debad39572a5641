// Copyright (c) 2026 Mesteriis

// Package config loads and validates the operator configuration: database
// connection, ACME account/directory, zone and distribution filesystem
// roots, and SSH client credentials. Parsing follows the teacher's
// settings-validation idiom: decode into a Settings struct, run every
// validator, and join all failures into one error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Settings is the fully parsed, validated operator configuration.
type Settings struct {
	// Database
	DatabaseDSN    string `mapstructure:"database_dsn"`
	DBEncryption   bool   `mapstructure:"db_encryption"`
	DBPassphrase   string `mapstructure:"db_passphrase"`

	// Filesystem roots
	ZoneRoot string `mapstructure:"zone_root"`
	WorkDir  string `mapstructure:"work_dir"`

	// Zone publishing
	IncludeFileName string `mapstructure:"include_file_name"`
	RemoteDNSMaster bool   `mapstructure:"remote_dns_master"`

	// Zone control hooks: shell commands the operator supplies for
	// update_zone_cache/update_SOA_of_updated_zones/reload_name_server
	// (spec §6). ZoneCacheCommand may contain a single "%s" placeholder for
	// the zone name.
	ZoneCacheCommand string `mapstructure:"zone_cache_command"`
	SOABumpCommand   string `mapstructure:"soa_bump_command"`
	ReloadNSCommand  string `mapstructure:"reload_ns_command"`

	// ACME
	ACMEDirectoryURL string `mapstructure:"acme_directory_url"`
	ACMEAccountPath  string `mapstructure:"acme_account_path"`
	LECASubject      string `mapstructure:"le_ca_subject"`
	LocalCASubject   string `mapstructure:"local_ca_subject"`

	// Local issuer
	RSABits int    `mapstructure:"rsa_bits"`
	ECCurve string `mapstructure:"ec_curve"`

	// SSH / SFTP
	SSHUsername     string `mapstructure:"ssh_username"`
	SSHClientKeyPath string `mapstructure:"ssh_client_key_path"`
	KnownHostsPath   string `mapstructure:"known_hosts_path"`
}

// DistFilters are the host filters the CLI surface exposes (spec §6): a
// whitelist, a blacklist, and an optional specific instance id. Parsing them
// out of flags is the CLI's job; the lifecycle coordinator only ever sees
// this struct.
type DistFilters struct {
	OnlyHost   []string
	SkipHost   []string
	NoTLSA     bool
	InstanceID int64
}

// Load reads configuration from path (a YAML file) via viper, applies
// defaults, and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("include_file_name", "acme-challenges.include")
	v.SetDefault("rsa_bits", 2048)
	v.SetDefault("ec_curve", "P-256")
	v.SetDefault("ssh_username", "certdist")
	v.SetDefault("ssh_client_key_path", "~/.ssh/id_rsa")
	v.SetDefault("known_hosts_path", "~/.ssh/known_hosts")
	v.SetDefault("work_dir", os.TempDir())
}

// Validate runs every structural check against s, returning a single joined
// error prefixed "serverpki settings validation failed" when any fail —
// matching the teacher's config-validation error shape.
func (s *Settings) Validate() error {
	var errs []error

	if s.DatabaseDSN == "" {
		errs = append(errs, errors.New("database_dsn is required"))
	}
	if s.RemoteDNSMaster {
		errs = append(errs, errors.New("remote_dns_master is not supported by this build"))
	}
	if s.ZoneRoot != "" {
		if fi, err := os.Stat(s.ZoneRoot); err != nil {
			errs = append(errs, fmt.Errorf("zone_root %s does not exist", s.ZoneRoot))
		} else if !fi.IsDir() {
			errs = append(errs, fmt.Errorf("zone_root %s is not a directory", s.ZoneRoot))
		}
	}
	if s.DBEncryption && s.DBPassphrase == "" {
		errs = append(errs, errors.New("db_passphrase is required when db_encryption is enabled"))
	}
	if s.RSABits != 0 && s.RSABits < 2048 {
		errs = append(errs, fmt.Errorf("rsa_bits %d is below the minimum of 2048", s.RSABits))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("serverpki settings validation failed: %w", errors.Join(errs...))
}

// ExpandHome expands a leading "~/" in path against the current user's home
// directory, the shape spec §6 describes for the SSH client key and
// known_hosts paths.
func ExpandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
