// Copyright (c) 2026 Mesteriis

package dist

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Mesteriis/serverPKI/internal/apperr"
	"github.com/Mesteriis/serverPKI/internal/model"
)

// Dialer opens an SSH connection to a dist host. Split out from Transport so
// tests can substitute an in-memory implementation.
type Dialer interface {
	Dial(fqdn string) (*ssh.Client, error)
}

// SSHDialer dials real hosts on port 22 using a shared client config.
type SSHDialer struct {
	Config *ssh.ClientConfig
	Port   int
}

func (d *SSHDialer) Dial(fqdn string) (*ssh.Client, error) {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return ssh.Dial("tcp", fmt.Sprintf("%s:%d", fqdn, port), d.Config)
}

// Transport carries a PlannedFile to its destination over SFTP, then applies
// ownership, permission and compatibility-symlink handling — following
// certdist.py's distribute_cert mkdir-fallback/upload/chmod/chown/symlink
// sequence, with the upload written to a temporary file and renamed into
// place, and keyed off Spec.Role instead of a substring test on the filename.
type Transport struct {
	Dialer Dialer
}

// Upload pushes file to its destination directory over an already-open SFTP
// client. A missing destination directory is created one level deep; if its
// parent does not exist either, Upload fails with apperr.MissingParent.
func (t *Transport) Upload(sc *sftp.Client, file PlannedFile) error {
	if _, err := sc.Stat(file.DestDir); err != nil {
		if err := sc.Mkdir(file.DestDir); err != nil {
			kind := apperr.TransportError
			if _, perr := sc.Stat(path.Dir(file.DestDir)); perr != nil {
				kind = apperr.MissingParent
			}
			return apperr.New("dist.Upload", kind, fmt.Errorf("mkdir %s on %s: %w", file.DestDir, file.FQDN, err))
		}
	}

	dest := path.Join(file.DestDir, file.Spec.Name)
	tmp := dest + ".tmp"
	f, err := sc.Create(tmp)
	if err != nil {
		return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("create %s on %s: %w", tmp, file.FQDN, err))
	}
	if _, err := io.Copy(f, bytes.NewReader(file.Content)); err != nil {
		f.Close()
		return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("write %s on %s: %w", tmp, file.FQDN, err))
	}
	if err := f.Close(); err != nil {
		return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("close %s on %s: %w", tmp, file.FQDN, err))
	}
	if err := sc.Rename(tmp, dest); err != nil {
		return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("rename %s on %s: %w", dest, file.FQDN, err))
	}

	if file.Spec.Role.ContainsKeyMaterial() {
		if err := sc.Chmod(dest, os.FileMode(file.Place.KeyMode())); err != nil {
			return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("chmod %s on %s: %w", dest, file.FQDN, err))
		}
		if file.Place.PGLink {
			if err := symlinkTolerant(sc, dest, path.Join(file.DestDir, "postgresql.key")); err != nil {
				return err
			}
		}
	}

	if file.Spec.Role.ContainsKeyMaterial() || file.Place.ChownBoth {
		if file.Place.UID != 0 || file.Place.GID != 0 {
			if err := sc.Chown(dest, file.Place.UID, file.Place.GID); err != nil {
				return apperr.New("dist.Upload", apperr.TransportError, fmt.Errorf("chown %s on %s: %w", dest, file.FQDN, err))
			}
		}
	} else if file.Place.PGLink {
		if err := symlinkTolerant(sc, dest, path.Join(file.DestDir, "postgresql.crt")); err != nil {
			return err
		}
	}
	return nil
}

// UploadAll connects once per distinct FQDN among files and uploads every
// PlannedFile destined for that host, returning the first error encountered.
func (t *Transport) UploadAll(files []PlannedFile) error {
	byHost := make(map[string][]PlannedFile)
	var order []string
	for _, f := range files {
		if _, ok := byHost[f.FQDN]; !ok {
			order = append(order, f.FQDN)
		}
		byHost[f.FQDN] = append(byHost[f.FQDN], f)
	}
	for _, fqdn := range order {
		if err := t.uploadToHost(fqdn, byHost[fqdn]); err != nil {
			return err
		}
	}
	return nil
}

// placeGroup is one (jail, place) bucket of files destined for the same
// host, in first-seen order, so uploadToHost can run a place's reload
// command once all of its files have landed (spec §4.4 "reload").
type placeGroup struct {
	jail  string
	place *model.Place
	files []PlannedFile
}

func groupByPlace(files []PlannedFile) []placeGroup {
	var groups []placeGroup
	index := make(map[*model.Place]int)
	for _, f := range files {
		i, ok := index[f.Place]
		if !ok {
			i = len(groups)
			index[f.Place] = i
			groups = append(groups, placeGroup{jail: f.Jail, place: f.Place})
		}
		groups[i].files = append(groups[i].files, f)
	}
	return groups
}

func (t *Transport) uploadToHost(fqdn string, files []PlannedFile) error {
	client, err := t.Dialer.Dial(fqdn)
	if err != nil {
		return apperr.New("dist.uploadToHost", apperr.TransportError, fmt.Errorf("dial %s: %w", fqdn, err))
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return apperr.New("dist.uploadToHost", apperr.TransportError, fmt.Errorf("sftp client for %s: %w", fqdn, err))
	}
	defer sc.Close()

	for _, group := range groupByPlace(files) {
		for _, f := range group.files {
			if err := t.Upload(sc, f); err != nil {
				return err
			}
		}
		if group.jail != "" && group.place.ReloadCommand != "" {
			runReload(client, fqdn, group.jail, group.place)
		}
	}
	return nil
}

// runReload executes a place's reload command on an already-open SSH
// client and warns (never fails the deployment) on a non-zero exit or a
// 10-second idle timeout, matching certdist.py's recv-loop semantics.
func runReload(client *ssh.Client, fqdn, jail string, place *model.Place) {
	cmd := place.ExpandReloadCommand(jail)
	output, timedOut, exitErr, err := RunReloadCommand(client, cmd)
	if err != nil {
		slog.Warn("dist: reload failed to start", "command", cmd, "host", fqdn, "error", err)
		return
	}
	if timedOut {
		slog.Warn("dist: reload timed out", "command", cmd, "host", fqdn, "timeout", ReceiveChunkTimeout, "output", string(output))
		return
	}
	if exitErr != nil {
		slog.Warn("dist: reload exited non-zero", "command", cmd, "host", fqdn, "error", exitErr, "output", string(output))
		return
	}
	slog.Info("dist: reload completed", "command", cmd, "host", fqdn, "output", string(output))
}

// symlinkTolerant removes any existing entry at link before creating it,
// matching the source's "unlink, ignore ENOENT, then symlink" pattern.
func symlinkTolerant(sc *sftp.Client, target, link string) error {
	_ = sc.Remove(link) // best-effort; absence is not an error
	if err := sc.Symlink(target, link); err != nil {
		return apperr.New("dist.symlinkTolerant", apperr.TransportError, fmt.Errorf("symlink %s -> %s: %w", link, target, err))
	}
	return nil
}
