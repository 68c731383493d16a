package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	_, err := ValidateURL("https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	_, err = ValidateURL("  http://example.com/audio.mp3 ")
	require.NoError(t, err)

	for _, bad := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"not a url",
		"https://",
		"",
	} {
		_, err := ValidateURL(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", bad)
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=x": "youtube",
		"https://music.youtube.com/watch":   "youtube",
		"https://youtu.be/x":                "youtube",
		"https://vimeo.com/123":             "vimeo",
		"https://m.soundcloud.com/a/b":      "soundcloud",
		"https://x.com/user/status/1":       "twitter",
		"https://example.com/audio.mp3":     "other",
		"https://notyoutube.com/watch":      "other",
	}
	for raw, want := range cases {
		u, err := ValidateURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, DetectPlatform(u), raw)
	}
}

func TestParseProgressLine(t *testing.T) {
	pct, ok := parseProgressLine("[download]  42.3% of 10.00MiB at 1.00MiB/s ETA 00:06")
	require.True(t, ok)
	assert.Equal(t, 42, pct)

	pct, ok = parseProgressLine("[download] 100% of 10.00MiB in 00:10")
	require.True(t, ok)
	assert.Equal(t, 100, pct)

	_, ok = parseProgressLine("[info] Downloading webpage")
	assert.False(t, ok)
	_, ok = parseProgressLine("[download] Destination: /tmp/x.mp3")
	assert.False(t, ok)
}

// fakeStarter plays back a canned transcript and materializes the output
// files yt-dlp would have written.
type fakeStarter struct {
	transcript string
	exitErr    error
	info       string
}

func (f *fakeStarter) Start(_ context.Context, _ string, args ...string) (io.ReadCloser, func() error, error) {
	var tmpl string
	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			tmpl = args[i+1]
		}
	}
	if f.exitErr == nil && tmpl != "" {
		base := strings.TrimSuffix(tmpl, ".%(ext)s")
		if err := os.WriteFile(base+".mp3", []byte("fake audio"), 0o644); err != nil {
			return nil, nil, err
		}
		if f.info != "" {
			if err := os.WriteFile(base+".info.json", []byte(f.info), 0o644); err != nil {
				return nil, nil, err
			}
		}
	}
	return io.NopCloser(strings.NewReader(f.transcript)), func() error { return f.exitErr }, nil
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	y := NewYTDLP("")
	y.starter = &fakeStarter{
		transcript: strings.Join([]string{
			"[youtube] Extracting URL",
			"[download] Destination: whatever",
			"[download]  10.0% of 5.00MiB",
			"[download]  55.5% of 5.00MiB",
			"[download] 100% of 5.00MiB in 00:03",
			"[ExtractAudio] Destination: whatever.mp3",
		}, "\n"),
		info: `{"title": "A Great Talk", "duration": 321.5}`,
	}

	var pcts []int
	res, err := y.Extract(context.Background(), "https://youtu.be/abc", dir,
		func(pct int) { pcts = append(pcts, pct) })
	require.NoError(t, err)
	assert.Equal(t, []int{10, 55, 100}, pcts)
	assert.Equal(t, "A Great Talk", res.Title)
	assert.InDelta(t, 321.5, res.DurationSeconds, 0.001)
	assert.True(t, strings.HasSuffix(res.Path, ".mp3"))

	// Sidecar cleaned up, audio kept.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(res.Path), entries[0].Name())
}

func TestExtractFailure(t *testing.T) {
	dir := t.TempDir()
	y := NewYTDLP("")
	y.starter = &fakeStarter{
		transcript: "ERROR: Video unavailable",
		exitErr:    assert.AnError,
	}
	_, err := y.Extract(context.Background(), "https://youtu.be/gone", dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Video unavailable")
}

func TestExtractRejectsBadURL(t *testing.T) {
	y := NewYTDLP("")
	_, err := y.Extract(context.Background(), "ftp://x", t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrInvalidURL)
}
