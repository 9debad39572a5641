// Copyright (c) 2026 Mesteriis

package zone_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mesteriis/serverPKI/internal/model"
	"github.com/Mesteriis/serverPKI/internal/zone"
)

type fakeControl struct {
	cached   []string
	bumped   bool
	reloaded bool
}

func (f *fakeControl) UpdateZoneCache(z string) error { f.cached = append(f.cached, z); return nil }
func (f *fakeControl) UpdateSOAOfUpdatedZones() error  { f.bumped = true; return nil }
func (f *fakeControl) ReloadNameServer() error         { f.reloaded = true; return nil }

func TestZoneForPicksLongestExistingSuffix(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b.example.com"), 0o755))

	p := zone.NewPublisher(root, "challenges.include", false, &fakeControl{})

	z, ok := p.ZoneFor("x.b.example.com")
	require.True(t, ok)
	require.Equal(t, "b.example.com", z)

	z, ok = p.ZoneFor("a.example.com")
	require.True(t, ok)
	require.Equal(t, "example.com", z)

	_, ok = p.ZoneFor("nowhere.test")
	require.False(t, ok)
}

func TestWriteChallengeIncludeAndTruncate(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com"), 0o755))
	ctl := &fakeControl{}
	p := zone.NewPublisher(root, "challenges.include", false, ctl)

	txt := map[string]string{"a.example.com": "abc123"}
	require.NoError(t, p.WriteChallengeInclude("example.com", txt, []string{"a.example.com"}))

	data, err := os.ReadFile(filepath.Join(root, "example.com", "challenges.include"))
	require.NoError(t, err)
	require.Contains(t, string(data), `_acme-challenge.a.example.com. IN TXT "abc123"`)
	require.Contains(t, ctl.cached, "example.com")

	require.NoError(t, p.TruncateChallengeInclude("example.com"))
	data, err = os.ReadFile(filepath.Join(root, "example.com", "challenges.include"))
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestPublishTLSAWritesPerFQDNFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com"), 0o755))
	ctl := &fakeControl{}
	p := zone.NewPublisher(root, "challenges.include", false, ctl)

	cm := &model.CertMeta{Name: "a.example.com", TLSAPrefixes: []string{"_443._tcp.{}"}}
	require.NoError(t, p.PublishTLSA(cm, "DEADBEEF", ""))

	data, err := os.ReadFile(filepath.Join(root, "example.com", "a.example.com.tlsa"))
	require.NoError(t, err)
	require.Equal(t, "_443._tcp.a.example.com DEADBEEF\n", string(data))
}

func TestPublishTLSANoopWithoutPrefixes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	p := zone.NewPublisher(root, "challenges.include", false, &fakeControl{})
	cm := &model.CertMeta{Name: "a.example.com"}
	require.NoError(t, p.PublishTLSA(cm, "DEADBEEF", ""))
}

func TestBumpAndReload(t *testing.T) {
	t.Parallel()
	ctl := &fakeControl{}
	p := zone.NewPublisher(t.TempDir(), "challenges.include", false, ctl)
	require.NoError(t, p.BumpAndReload())
	require.True(t, ctl.bumped)
	require.True(t, ctl.reloaded)
}
