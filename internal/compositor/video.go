package compositor

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/post-composer/internal/metrics"
	"github.com/fpang/post-composer/internal/scratch"
)

// CropType selects how a video is fitted to the output frame.
type CropType string

const (
	// CropCover crops the centre to the frame aspect and fills the frame.
	CropCover CropType = "cover"
	// CropContain fits the whole video inside the frame over black.
	CropContain CropType = "contain"
)

// Edits are the per-post video edits.
type Edits struct {
	CropType CropType `json:"crop_type,omitempty"`
	// Bias positions still-image crops (0 left, 1 right); nil centres.
	// Video crops are always centred.
	Bias        *float64 `json:"bias,omitempty"`
	AddGradient bool     `json:"add_gradient,omitempty"`
	// VerticalOffset shifts a contained video down (positive) or up, in
	// output pixels. It is clamped so the video stays inside the frame.
	VerticalOffset int `json:"vertical_offset,omitempty"`
	TargetWidth    int `json:"target_width,omitempty"`
	TargetHeight   int `json:"target_height,omitempty"`
}

// WithDefaults fills zero fields from the policy.
func (e Edits) WithDefaults(p VideoPolicy) Edits {
	if e.CropType == "" {
		e.CropType = CropCover
	}
	if e.TargetWidth == 0 {
		e.TargetWidth = p.Width
	}
	if e.TargetHeight == 0 {
		e.TargetHeight = p.Height
	}
	return e
}

// Validate checks the edits. allowed lists the crop types the template
// accepts; empty accepts both.
func (e Edits) Validate(allowed []string) error {
	switch e.CropType {
	case CropCover, CropContain:
	default:
		return invalid("unknown crop type %q", e.CropType)
	}
	if len(allowed) > 0 && !slices.Contains(allowed, string(e.CropType)) {
		return invalid("crop type %q not allowed, want one of %v", e.CropType, allowed)
	}
	if e.TargetWidth <= 0 || e.TargetHeight <= 0 {
		return invalid("target size %dx%d", e.TargetWidth, e.TargetHeight)
	}
	if e.TargetWidth%2 != 0 || e.TargetHeight%2 != 0 {
		return invalid("target size %dx%d must be even", e.TargetWidth, e.TargetHeight)
	}
	return nil
}

// VideoPolicy is the encode policy.
type VideoPolicy struct {
	Width         int
	Height        int
	FPS           int
	VideoCodec    string
	Preset        string
	VideoBitrate  string
	AudioCodec    string
	AudioBitrate  string
	GradientRatio float64
	Timeout       time.Duration
}

// DefaultVideoPolicy is a 576x720 H.264/AAC encode tuned for speed.
var DefaultVideoPolicy = VideoPolicy{
	Width:         576,
	Height:        720,
	FPS:           15,
	VideoCodec:    "libx264",
	Preset:        "ultrafast",
	VideoBitrate:  "1500k",
	AudioCodec:    "aac",
	AudioBitrate:  "128k",
	GradientRatio: 0.35,
	Timeout:       5 * time.Minute,
}

// Probe is what the media engine reports about an input.
type Probe struct {
	Width    int
	Height   int
	Duration time.Duration
	HasAudio bool
}

// MediaEngine probes and transcodes files.
type MediaEngine interface {
	Probe(ctx context.Context, path string) (*Probe, error)
	// Transcode runs one encode; the last argument is the output path.
	Transcode(ctx context.Context, args []string) error
}

// VideoCompositor layers a rendered overlay onto a video.
type VideoCompositor struct {
	engine MediaEngine
	policy VideoPolicy
}

// NewVideoCompositor creates a VideoCompositor. Zero policy fields take
// DefaultVideoPolicy values.
func NewVideoCompositor(engine MediaEngine, policy VideoPolicy) *VideoCompositor {
	d := DefaultVideoPolicy
	if policy.Width == 0 {
		policy.Width = d.Width
	}
	if policy.Height == 0 {
		policy.Height = d.Height
	}
	if policy.FPS == 0 {
		policy.FPS = d.FPS
	}
	if policy.VideoCodec == "" {
		policy.VideoCodec = d.VideoCodec
	}
	if policy.Preset == "" {
		policy.Preset = d.Preset
	}
	if policy.VideoBitrate == "" {
		policy.VideoBitrate = d.VideoBitrate
	}
	if policy.AudioCodec == "" {
		policy.AudioCodec = d.AudioCodec
	}
	if policy.AudioBitrate == "" {
		policy.AudioBitrate = d.AudioBitrate
	}
	if policy.GradientRatio == 0 {
		policy.GradientRatio = d.GradientRatio
	}
	if policy.Timeout == 0 {
		policy.Timeout = d.Timeout
	}
	return &VideoCompositor{engine: engine, policy: policy}
}

// Policy returns the effective policy.
func (c *VideoCompositor) Policy() VideoPolicy { return c.policy }

// Compose returns the encoded video with the overlay (and optional gradient)
// layered over it for its whole duration. A nil overlay encodes the fitted
// video alone. Every intermediate file is registered with sess.
func (c *VideoCompositor) Compose(ctx context.Context, video, overlay []byte, edits Edits, sess *scratch.Session) ([]byte, error) {
	edits = edits.WithDefaults(c.policy)
	if err := edits.Validate(nil); err != nil {
		return nil, err
	}
	if len(video) == 0 {
		return nil, invalid("empty video")
	}

	w, h := edits.TargetWidth, edits.TargetHeight
	var overlayPNG []byte
	if len(overlay) > 0 {
		var err error
		if overlayPNG, err = ExtractTransparency(overlay, w, h); err != nil {
			return nil, err
		}
	}

	inputPath, err := sess.WriteFile("input_video", ".mp4", video)
	if err != nil {
		return nil, err
	}
	var overlayPath string
	if overlayPNG != nil {
		if overlayPath, err = sess.WriteFile("overlay", ".png", overlayPNG); err != nil {
			return nil, err
		}
	}
	var gradientPath string
	if edits.AddGradient {
		g, err := GradientPNG(w, h, c.policy.GradientRatio)
		if err != nil {
			return nil, err
		}
		if gradientPath, err = sess.WriteFile("gradient", ".png", g); err != nil {
			return nil, err
		}
	}
	outputPath, err := sess.NewPath("output_video", ".mp4")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	probe, err := c.engine.Probe(ctx, inputPath)
	if err != nil {
		return nil, &CompositeError{Kind: MediaEngineFailure, Err: fmt.Errorf("probe: %w", err)}
	}
	if probe.Width <= 0 || probe.Height <= 0 {
		return nil, invalid("input has no video stream")
	}

	args := buildArgs(inputPath, gradientPath, overlayPath, outputPath, probe, edits, c.policy)

	start := time.Now()
	err = c.engine.Transcode(ctx, args)
	m := metrics.New("compose_video").
		Dimension("CropType", string(edits.CropType)).
		Since("EncodeLatencyMs", start).
		Metric("InputBytes", float64(len(video)), metrics.UnitBytes).
		Count("Encodes")
	if err != nil {
		m.Count("EncodeErrors").Flush()
		return nil, &CompositeError{Kind: MediaEngineFailure, Err: fmt.Errorf("transcode: %w", err)}
	}

	out, err := os.ReadFile(outputPath)
	if err != nil || len(out) == 0 {
		m.Count("EncodeErrors").Flush()
		if err == nil {
			err = fmt.Errorf("encoder produced no output")
		}
		return nil, &CompositeError{Kind: MediaEngineFailure, Err: err}
	}
	m.Metric("OutputBytes", float64(len(out)), metrics.UnitBytes).Flush()

	log.Info().
		Int("source_width", probe.Width).
		Int("source_height", probe.Height).
		Dur("duration", probe.Duration).
		Str("crop_type", string(edits.CropType)).
		Bool("gradient", edits.AddGradient).
		Bool("overlay", overlayPath != "").
		Int("output_bytes", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Video composed")
	return out, nil
}

// fitFilter returns the filter chain that maps the source frame onto the
// w x h output.
func fitFilter(p *Probe, e Edits) string {
	w, h := e.TargetWidth, e.TargetHeight
	if e.CropType == CropContain {
		scale := math.Min(float64(w)/float64(p.Width), float64(h)/float64(p.Height))
		sw := even(int(float64(p.Width) * scale))
		sh := even(int(float64(p.Height) * scale))
		x := (w - sw) / 2
		y := clampInt((h-sh)/2+e.VerticalOffset, 0, h-sh)
		return fmt.Sprintf("scale=%d:%d,pad=%d:%d:%d:%d:black,setsar=1", sw, sh, w, h, x, y)
	}

	cw, ch := p.Width, p.Height
	target := float64(w) / float64(h)
	if float64(p.Width)/float64(p.Height) > target {
		cw = even(int(math.Round(float64(p.Height) * target)))
	} else {
		ch = even(int(math.Round(float64(p.Width) / target)))
	}
	cw, ch = min(cw, p.Width), min(ch, p.Height)
	return fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d,setsar=1", cw, ch, (p.Width-cw)/2, (p.Height-ch)/2, w, h)
}

// buildFilterGraph stacks video, optional gradient and optional overlay.
// Image inputs are looped, so each overlay ends with the video.
func buildFilterGraph(p *Probe, e Edits, fps int, withGradient, withOverlay bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[0:v]%s,fps=%d[base]", fitFilter(p, e), fps)
	layer, next := "base", 1
	if withGradient {
		fmt.Fprintf(&sb, ";[%s][%d:v]overlay=0:0:shortest=1[graded]", layer, next)
		layer, next = "graded", next+1
	}
	if withOverlay {
		fmt.Fprintf(&sb, ";[%s][%d:v]overlay=0:0:shortest=1,format=yuv420p[out]", layer, next)
	} else {
		fmt.Fprintf(&sb, ";[%s]format=yuv420p[out]", layer)
	}
	return sb.String()
}

func buildArgs(inputPath, gradientPath, overlayPath, outputPath string, p *Probe, e Edits, policy VideoPolicy) []string {
	args := []string{"-y", "-i", inputPath}
	if gradientPath != "" {
		args = append(args, "-loop", "1", "-i", gradientPath)
	}
	if overlayPath != "" {
		args = append(args, "-loop", "1", "-i", overlayPath)
	}

	args = append(args,
		"-filter_complex", buildFilterGraph(p, e, policy.FPS, gradientPath != "", overlayPath != ""),
		"-map", "[out]",
		"-c:v", policy.VideoCodec,
		"-preset", policy.Preset,
		"-b:v", policy.VideoBitrate,
		"-r", strconv.Itoa(policy.FPS),
	)
	if p.HasAudio {
		args = append(args, "-map", "0:a:0", "-c:a", policy.AudioCodec, "-b:a", policy.AudioBitrate)
	} else {
		args = append(args, "-an")
	}
	if p.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(p.Duration.Seconds(), 'f', 3, 64))
	}
	return append(args, "-movflags", "+faststart", outputPath)
}

func even(n int) int {
	if n < 2 {
		return 2
	}
	return n &^ 1
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(hi, v))
}
