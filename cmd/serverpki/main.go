// Copyright (c) 2026 Mesteriis

// Command serverpki is the lifecycle manager's CLI surface: issue, deploy,
// prepublish-tlsa and expire-sweep, wired over the config/store/issuer/zone/
// dist/lifecycle components (spec §6 "CLI surface (collaborator, not core)").
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Mesteriis/serverPKI/internal/config"
	"github.com/Mesteriis/serverPKI/internal/crypto/keygen"
	"github.com/Mesteriis/serverPKI/internal/crypto/seal"
	"github.com/Mesteriis/serverPKI/internal/dist"
	"github.com/Mesteriis/serverPKI/internal/issuer/acme"
	"github.com/Mesteriis/serverPKI/internal/issuer/local"
	"github.com/Mesteriis/serverPKI/internal/lifecycle"
	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/store"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "serverpki",
		Short: "Certificate lifecycle manager: issue, deploy, prepublish TLSA, and sweep expiries",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "serverpki.yml", "path to the configuration file")

	root.AddCommand(newIssueCommand(&configPath))
	root.AddCommand(newDeployCommand(&configPath))
	root.AddCommand(newPrepublishCommand(&configPath))
	root.AddCommand(newExpireSweepCommand(&configPath))
	return root
}

func newIssueCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <name>",
		Short: "Issue a fresh instance for a cert_meta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer coord.Store.Close()

			cm, err := coord.Store.LoadCertMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			certificateRowID, err := coord.Store.EnsureCertificateRow(cmd.Context(), cm)
			if err != nil {
				return err
			}
			ci, err := coord.Issue(cmd.Context(), certificateRowID, cm)
			if err != nil {
				return err
			}
			fmt.Printf("issued instance %d for %s, valid %s .. %s\n", ci.RowID, cm.Name, ci.NotBefore.Format(time.RFC3339), ci.NotAfter.Format(time.RFC3339))
			return nil
		},
	}
}

func newDeployCommand(configPath *string) *cobra.Command {
	var onlyHost, skipHost []string
	var noTLSA bool
	var instanceID int64
	cmd := &cobra.Command{
		Use:   "deploy <name>...",
		Short: "Distribute the active instance of one or more cert_metas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer coord.Store.Close()

			filters := config.DistFilters{OnlyHost: onlyHost, SkipHost: skipHost, NoTLSA: noTLSA, InstanceID: instanceID}
			targets := make([]dist.Target, 0, len(args))
			for _, name := range args {
				cm, err := coord.Store.LoadCertMeta(cmd.Context(), name)
				if err != nil {
					return err
				}
				rowID, err := coord.Store.EnsureCertificateRow(cmd.Context(), cm)
				if err != nil {
					return err
				}
				targets = append(targets, dist.Target{CertificateRowID: rowID, CM: cm})
			}
			return coord.Deploy(cmd.Context(), targets, filters)
		},
	}
	cmd.Flags().StringSliceVar(&onlyHost, "only-host", nil, "restrict deployment to these FQDNs")
	cmd.Flags().StringSliceVar(&skipHost, "skip-host", nil, "exclude these FQDNs from deployment")
	cmd.Flags().BoolVar(&noTLSA, "no-tlsa", false, "suppress the per-cert_meta TLSA publish step")
	cmd.Flags().Int64Var(&instanceID, "instance-id", 0, "deploy a specific instance instead of the most recent active one")
	return cmd
}

func newPrepublishCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prepublish-tlsa <name> <prepublished-instance-id>",
		Short: "Publish a prepublished instance's TLSA hash alongside the active one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer coord.Store.Close()

			cm, err := coord.Store.LoadCertMeta(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var prepublishedID int64
			if _, err := fmt.Sscanf(args[1], "%d", &prepublishedID); err != nil {
				return fmt.Errorf("invalid instance id %q: %w", args[1], err)
			}
			now := time.Now().UTC()
			active := cm.Instance(0, now)
			prepublished := cm.Instance(prepublishedID, now)
			if prepublished == nil {
				return fmt.Errorf("%s: no such instance %d", cm.Name, prepublishedID)
			}
			return coord.PrepublishTLSA(cmd.Context(), cm, active, prepublished)
		},
	}
}

func newExpireSweepCommand(configPath *string) *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "expire-sweep",
		Short: "Mark every loaded cert_meta's past-due instances as expired",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer coord.Store.Close()

			names = args
			cms := make([]*model.CertMeta, 0, len(names))
			for _, name := range names {
				cm, err := coord.Store.LoadCertMeta(cmd.Context(), name)
				if err != nil {
					return err
				}
				cms = append(cms, cm)
			}
			return coord.ExpireSweep(cmd.Context(), cms)
		},
	}
	return cmd
}

// bootstrap loads configuration and wires every component the coordinator
// needs. It is intentionally linear and side-effecting (opens the database,
// reads key material from disk) — there is exactly one call site per
// process invocation.
func bootstrap(configPath string) (*lifecycle.Coordinator, *config.Settings, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := store.Migrate(cfg.DatabaseDSN); err != nil {
		return nil, nil, err
	}

	registry := model.NewRegistry()
	st, err := store.Open(cfg.DatabaseDSN, registry)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBEncryption {
		salt, err := dbSalt(cfg.WorkDir)
		if err != nil {
			return nil, nil, err
		}
		if err := st.WithSealKey([]byte(cfg.DBPassphrase), salt, seal.DefaultScryptParams); err != nil {
			return nil, nil, err
		}
	}

	zonePublisher := zone.NewPublisher(cfg.ZoneRoot, cfg.IncludeFileName, cfg.RemoteDNSMaster, &execControl{
		cache:   cfg.ZoneCacheCommand,
		soaBump: cfg.SOABumpCommand,
		reload:  cfg.ReloadNSCommand,
	})

	localIssuer := &local.Issuer{Store: st, RSABits: cfg.RSABits, ECCurve: keygen.Curve(cfg.ECCurve)}

	var acmeIssuer *acme.Issuer
	if cfg.ACMEDirectoryURL != "" {
		accountKeyPEM, err := os.ReadFile(cfg.ACMEAccountPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read acme_account_path: %w", err)
		}
		accountKey, err := keygen.ParsePrivateKeyPEM(accountKeyPEM)
		if err != nil {
			return nil, nil, fmt.Errorf("parse acme account key: %w", err)
		}
		client := acme.NewClient(cfg.ACMEDirectoryURL, accountKey)
		authorizer := acme.NewAuthorizer(client, zonePublisher)
		acmeIssuer = &acme.Issuer{
			Authorizer:  authorizer,
			Client:      client,
			Store:       st,
			Registry:    registry,
			RSABits:     cfg.RSABits,
			ECCurve:     keygen.Curve(cfg.ECCurve),
			LECASubject: cfg.LECASubject,
		}
	}

	dialer, err := newSSHDialer(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := &dist.Engine{Store: st, Zone: zonePublisher, Transport: &dist.Transport{Dialer: dialer}}

	coord := &lifecycle.Coordinator{
		Store:          st,
		Registry:       registry,
		Zone:           zonePublisher,
		Dist:           engine,
		LocalIssue:     localIssuer,
		ACMEIssue:      acmeIssuer,
		LECASubject:    cfg.LECASubject,
		LocalCASubject: cfg.LocalCASubject,
	}
	return coord, cfg, nil
}

// dbSalt reads the scrypt salt from workDir/db.salt, generating and
// persisting a fresh 16-byte salt on first run.
func dbSalt(workDir string) ([]byte, error) {
	path := filepath.Join(workDir, "db.salt")
	if b, err := os.ReadFile(path); err == nil {
		return b, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate db salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("persist db salt: %w", err)
	}
	return salt, nil
}

func newSSHDialer(cfg *config.Settings) (*dist.SSHDialer, error) {
	keyPath, err := config.ExpandHome(cfg.SSHClientKeyPath)
	if err != nil {
		return nil, err
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh_client_key_path: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh client key: %w", err)
	}

	knownHostsPath, err := config.ExpandHome(cfg.KnownHostsPath)
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts_path: %w", err)
	}

	return &dist.SSHDialer{Config: &ssh.ClientConfig{
		User:            cfg.SSHUsername,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}}, nil
}

// execControl runs operator-supplied shell commands for the three DNS
// control signals spec §6 names. An empty command is a no-op, letting a
// local-only deployment skip ACME/DNS entirely.
type execControl struct {
	cache   string
	soaBump string
	reload  string
}

func (c *execControl) UpdateZoneCache(zone string) error {
	return runHook(strings.ReplaceAll(c.cache, "%s", zone))
}

func (c *execControl) UpdateSOAOfUpdatedZones() error {
	return runHook(c.soaBump)
}

func (c *execControl) ReloadNameServer() error {
	return runHook(c.reload)
}

func runHook(command string) error {
	if command == "" {
		return nil
	}
	out, err := exec.Command("/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w: %s", command, err, out)
	}
	return nil
}
