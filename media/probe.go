package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Metadata is what a Prober extracts from a stored blob.
type Metadata struct {
	DurationSeconds float64
	MIME            string
}

// Prober extracts media metadata from a file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

// commandRunner abstracts process execution so tests can fake ffprobe.
type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FFProbe shells out to ffprobe for duration and format detection.
type FFProbe struct {
	bin     string
	timeout time.Duration
	runner  commandRunner
}

// NewFFProbe returns a Prober using the given ffprobe binary.
func NewFFProbe(bin string) *FFProbe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{bin: bin, timeout: 30 * time.Second, runner: execRunner{}}
}

type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// mimeByFormat maps ffprobe format names to MIME types. ffprobe reports
// comma-separated alternatives for some containers; the first match wins.
var mimeByFormat = map[string]string{
	"mp3":      "audio/mpeg",
	"wav":      "audio/wav",
	"ogg":      "audio/ogg",
	"flac":     "audio/flac",
	"aac":      "audio/aac",
	"mov":      "audio/mp4",
	"mp4":      "audio/mp4",
	"m4a":      "audio/mp4",
	"webm":     "audio/webm",
	"matroska": "audio/webm",
}

// Probe runs ffprobe and parses its JSON format block.
func (p *FFProbe) Probe(ctx context.Context, path string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.runner.Output(ctx, p.bin,
		"-v", "quiet", "-print_format", "json", "-show_format", path)
	if err != nil {
		return Metadata{}, fmt.Errorf("ffprobe: %w", err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe output: %w", err)
	}
	var meta Metadata
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			meta.DurationSeconds = d
		}
	}
	for _, name := range strings.Split(parsed.Format.FormatName, ",") {
		if mime, ok := mimeByFormat[name]; ok {
			meta.MIME = mime
			break
		}
	}
	return meta, nil
}
