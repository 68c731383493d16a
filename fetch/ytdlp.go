package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"goa.design/clue/log"
)

// Extractor downloads the audio track of a remote URL into destDir. The
// progress callback receives monotonically increasing percentages in [0,100]
// and may be nil.
type Extractor interface {
	Extract(ctx context.Context, rawURL, destDir string, progress func(pct int)) (*Result, error)
}

// procStarter launches a process and exposes its combined output stream.
// Tests substitute a fake to feed canned yt-dlp transcripts.
type procStarter interface {
	Start(ctx context.Context, name string, args ...string) (out io.ReadCloser, wait func() error, err error)
}

type execStarter struct{}

func (execStarter) Start(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = cmd.Stdout
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return pipe, cmd.Wait, nil
}

// YTDLP extracts audio via the yt-dlp CLI.
type YTDLP struct {
	bin     string
	starter procStarter
}

// NewYTDLP returns an Extractor shelling out to the given yt-dlp binary.
func NewYTDLP(bin string) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{bin: bin, starter: execStarter{}}
}

// progressRe matches yt-dlp's --newline progress lines, e.g.
// "[download]  42.3% of 10.00MiB at 1.00MiB/s ETA 00:06".
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// Extract downloads the best audio track as mp3 under a random basename in
// destDir. An info JSON sidecar supplies title and duration and is removed
// before returning.
func (y *YTDLP) Extract(ctx context.Context, rawURL, destDir string, progress func(pct int)) (*Result, error) {
	if _, err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	base := uuid.NewString()
	args := []string{
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--audio-quality", "192K",
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--write-info-json",
		"-o", filepath.Join(destDir, base+".%(ext)s"),
		rawURL,
	}
	out, wait, err := y.starter.Start(ctx, y.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("start yt-dlp: %w", err)
	}

	last := -1
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var tail []string
	for scanner.Scan() {
		line := scanner.Text()
		if pct, ok := parseProgressLine(line); ok {
			if progress != nil && pct > last {
				last = pct
				progress(pct)
			}
			continue
		}
		// Keep a short tail of non-progress output for error reporting.
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
	}
	_ = out.Close()
	if err := wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.Join(tail, "\n"))
	}

	path, err := findOutput(destDir, base)
	if err != nil {
		return nil, err
	}
	res := &Result{Path: path}
	infoPath := filepath.Join(destDir, base+".info.json")
	if info, err := readInfo(infoPath); err == nil {
		res.Title = info.Title
		res.DurationSeconds = info.Duration
	} else {
		log.Warn(ctx, log.KV{K: "msg", V: "yt-dlp info sidecar unreadable"},
			log.KV{K: "err", V: err.Error()})
	}
	_ = os.Remove(infoPath)
	if progress != nil && last < 100 {
		progress(100)
	}
	return res, nil
}

func parseProgressLine(line string) (int, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	pct := int(f)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// findOutput locates the downloaded audio file by its random basename,
// skipping the info JSON sidecar.
func findOutput(destDir, base string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(destDir, base+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".info.json") || strings.HasSuffix(m, ".part") {
			continue
		}
		return m, nil
	}
	return "", errors.New("yt-dlp produced no output file")
}

type mediaInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

func readInfo(path string) (*mediaInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info mediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
