package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// FFmpeg is the MediaEngine backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg locates ffmpeg and ffprobe in PATH.
func NewFFmpeg() (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	log.Debug().Str("ffmpeg", ffmpegPath).Str("ffprobe", ffprobePath).Msg("Media engine found")
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// Path returns the ffmpeg binary path.
func (f *FFmpeg) Path() string { return f.ffmpegPath }

// ffprobeOutput is the subset of ffprobe's JSON output the compositor reads.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type ffprobeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

// Probe implements MediaEngine.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*Probe, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*Probe, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	p := &Probe{}
	var streamDuration string
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if p.Width == 0 {
				p.Width, p.Height = s.Width, s.Height
				streamDuration = s.Duration
				if rotated(s.Tags["rotate"]) {
					p.Width, p.Height = p.Height, p.Width
				}
			}
		case "audio":
			p.HasAudio = true
		}
	}

	for _, d := range []string{probe.Format.Duration, streamDuration} {
		if secs, err := strconv.ParseFloat(d, 64); err == nil && secs > 0 {
			p.Duration = time.Duration(secs * float64(time.Second))
			break
		}
	}
	return p, nil
}

func rotated(tag string) bool {
	deg, err := strconv.Atoi(tag)
	if err != nil {
		return false
	}
	deg = ((deg % 360) + 360) % 360
	return deg == 90 || deg == 270
}

// Transcode implements MediaEngine.
func (f *FFmpeg) Transcode(ctx context.Context, args []string) error {
	log.Debug().Strs("args", args).Msg("Running FFmpeg")

	start := time.Now()
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Warn().
			Err(err).
			Str("ffmpeg_output", tail(string(output), 2000)).
			Dur("duration", time.Since(start)).
			Msg("FFmpeg failed")
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, tail(string(output), 500))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
