package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in       string
		wantBase string
		wantExt  string
	}{
		{"My Podcast Episode.mp3", "My_Podcast_Episode", "mp3"},
		{"hello---world.WAV", "hello---world", "wav"},
		{"weird!!name###here.m4a", "weird_name_here", "m4a"},
		{"...", "file", ""},
		{"", "file", ""},
		{"no_extension", "no_extension", ""},
		{"../../etc/passwd", "passwd", ""},
		{"tabs\tand spaces.ogg", "tabs_and_spaces", "ogg"},
		{"ext.with?chars.mp?3", "ext_with_chars", "mp3"},
	}
	for _, tc := range cases {
		base, ext := SanitizeName(tc.in)
		assert.Equal(t, tc.wantBase, base, "base for %q", tc.in)
		assert.Equal(t, tc.wantExt, ext, "ext for %q", tc.in)
	}
}

func TestSanitizeNameLength(t *testing.T) {
	base, ext := SanitizeName(strings.Repeat("a", 500) + ".mp3")
	assert.Len(t, base, maxNameBytes)
	assert.Equal(t, "mp3", ext)
}

func TestStageAndSweep(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, 0, nil)
	require.NoError(t, err)

	path, err := s.Stage(strings.NewReader("audio bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, filepath.Join(root, "_staging")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(data))

	// Fresh files survive a sweep, stale ones do not.
	s.SweepStaging(context.Background(), time.Hour)
	_, err = os.Stat(path)
	require.NoError(t, err)

	stale := filepath.Join(root, "_staging", "old.part")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	s.SweepStaging(context.Background(), time.Hour)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestStageSizeCap(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, 10, nil)
	require.NoError(t, err)

	_, err = s.Stage(strings.NewReader("this payload is larger than ten bytes"))
	assert.ErrorIs(t, err, ErrTooLarge)

	// Nothing left behind in staging after a rejected write.
	entries, err := os.ReadDir(filepath.Join(root, "_staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	path, err := s.Stage(strings.NewReader("tiny"))
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestReleaseLoserBlob(t *testing.T) {
	dir := t.TempDir()

	// Both ingests landed on the same path: the blob belongs to the winner
	// and must survive.
	shared := filepath.Join(dir, "shared.mp3")
	require.NoError(t, os.WriteFile(shared, []byte("audio"), 0o644))
	releaseLoserBlob(shared, shared)
	_, err := os.Stat(shared)
	require.NoError(t, err)

	// Distinct paths: the loser's copy is redundant and goes away.
	loser := filepath.Join(dir, "loser.mp3")
	require.NoError(t, os.WriteFile(loser, []byte("audio"), 0o644))
	releaseLoserBlob(shared, loser)
	_, err = os.Stat(loser)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(shared)
	require.NoError(t, err)
}

type fakeRunner struct {
	out []byte
	err error
}

func (f fakeRunner) Output(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return f.out, f.err
}

func TestFFProbeParse(t *testing.T) {
	p := NewFFProbe("")
	p.runner = fakeRunner{out: []byte(`{
		"format": {"duration": "123.45", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
	}`)}
	meta, err := p.Probe(context.Background(), "/tmp/a.m4a")
	require.NoError(t, err)
	assert.InDelta(t, 123.45, meta.DurationSeconds, 0.001)
	assert.Equal(t, "audio/mp4", meta.MIME)
}

func TestFFProbeUnknownFormat(t *testing.T) {
	p := NewFFProbe("ffprobe")
	p.runner = fakeRunner{out: []byte(`{"format": {"duration": "1.5", "format_name": "unknowncontainer"}}`)}
	meta, err := p.Probe(context.Background(), "/tmp/a.bin")
	require.NoError(t, err)
	assert.Equal(t, "", meta.MIME)
	assert.InDelta(t, 1.5, meta.DurationSeconds, 0.001)
}
