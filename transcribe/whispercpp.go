package transcribe

import (
	"bufio"
	"context"
	"encoding/json"
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

	"github.com/mixware/mxwhisper/store"
)

// procStarter launches a process and exposes its combined output stream.
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

// WhisperCPP transcribes via the whisper.cpp CLI. Input audio is first
// resampled to 16 kHz mono WAV with ffmpeg, which is the only input format
// whisper.cpp accepts.
type WhisperCPP struct {
	bin      string
	ffmpeg   string
	modelDir string
	size     string
	workDir  string
	starter  procStarter
}

// NewWhisperCPP builds a driver for the given model size (tiny, base, small,
// medium, large). Intermediate files go under workDir.
func NewWhisperCPP(bin, ffmpeg, modelDir, size, workDir string) *WhisperCPP {
	if bin == "" {
		bin = "whisper-cli"
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &WhisperCPP{
		bin:      bin,
		ffmpeg:   ffmpeg,
		modelDir: modelDir,
		size:     size,
		workDir:  workDir,
		starter:  execStarter{},
	}
}

// ModelPath returns the on-disk ggml model file for the configured size.
func (w *WhisperCPP) ModelPath() string {
	return filepath.Join(w.modelDir, "ggml-"+w.size+".bin")
}

// whisperProgressRe matches whisper.cpp's --print-progress stderr lines,
// e.g. "whisper_print_progress_callback: progress =  35%".
var whisperProgressRe = regexp.MustCompile(`progress\s*=\s*(\d+)%`)

// Transcribe resamples the audio, runs whisper.cpp with full JSON output and
// parses the result. Temporary files are removed on every path.
func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath string, progress func(pct int)) (*Result, error) {
	if _, err := os.Stat(w.ModelPath()); err != nil {
		return nil, fmt.Errorf("whisper model %s: %w", w.ModelPath(), err)
	}

	base := filepath.Join(w.workDir, uuid.NewString())
	wav := base + ".wav"
	if err := w.resample(ctx, audioPath, wav); err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(wav) }()

	outBase := base + ".whisper"
	args := []string{
		"-m", w.ModelPath(),
		"-f", wav,
		"--output-json-full",
		"--output-file", outBase,
		"--print-progress",
		"--no-prints",
	}
	out, wait, err := w.starter.Start(ctx, w.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("start whisper: %w", err)
	}
	last := -1
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var tail []string
	for scanner.Scan() {
		line := scanner.Text()
		if m := whisperProgressRe.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil && progress != nil && pct > last {
				last = pct
				progress(min(pct, 100))
			}
			continue
		}
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
		return nil, fmt.Errorf("whisper failed: %w: %s", err, strings.Join(tail, "\n"))
	}

	jsonPath := outBase + ".json"
	defer func() { _ = os.Remove(jsonPath) }()
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	res, err := parseWhisperJSON(data)
	if err != nil {
		return nil, err
	}
	if progress != nil && last < 100 {
		progress(100)
	}
	log.Info(ctx, log.KV{K: "msg", V: "transcription complete"},
		log.KV{K: "segments", V: len(res.Segments)},
		log.KV{K: "language", V: res.Language})
	return res, nil
}

func (w *WhisperCPP) resample(ctx context.Context, in, out string) error {
	stream, wait, err := w.starter.Start(ctx, w.ffmpeg,
		"-y", "-i", in, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", out)
	if err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	_, _ = io.Copy(io.Discard, stream)
	_ = stream.Close()
	if err := wait(); err != nil {
		return fmt.Errorf("ffmpeg resample: %w", err)
	}
	return nil
}

type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			P float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp's full JSON output into segments.
// Offsets are milliseconds; segment confidence is the mean token probability.
func parseWhisperJSON(data []byte) (*Result, error) {
	var parsed whisperJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}
	res := &Result{Language: parsed.Result.Language}
	var text strings.Builder
	for _, seg := range parsed.Transcription {
		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		conf := 0.0
		if len(seg.Tokens) > 0 {
			for _, tok := range seg.Tokens {
				conf += tok.P
			}
			conf /= float64(len(seg.Tokens))
		}
		res.Segments = append(res.Segments, store.Segment{
			StartS:     float64(seg.Offsets.From) / 1000,
			EndS:       float64(seg.Offsets.To) / 1000,
			Text:       t,
			Confidence: conf,
		})
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(t)
	}
	res.Text = text.String()
	return res, nil
}
