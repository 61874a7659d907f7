package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when the provided dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrEmptyProbeOutput is returned when ffprobe reports no video stream.
	ErrEmptyProbeOutput = errors.New("ffprobe returned no video stream dimensions")
	// ErrInvalidResolution is returned when ffprobe output does not describe a positive size.
	ErrInvalidResolution = errors.New("ffprobe returned an invalid resolution")
	// ErrInvalidDuration is returned when the probed duration cannot be parsed.
	ErrInvalidDuration = errors.New("ffprobe returned an invalid duration")
	// ErrNoFrameExtracted is returned when ffmpeg exits cleanly but writes no image,
	// which happens when the source is shorter than the requested offset.
	ErrNoFrameExtracted = errors.New("no frame extracted at requested offset")
)

const (
	// maxStderr bounds how much tool diagnostic output is kept in a ToolError.
	maxStderr = 4096
	// waitDelay bounds how long a killed tool may keep its output pipes open.
	waitDelay = 2 * time.Second
)

// FFmpegProcessor implements Processor using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	preset      string
	crf         int
}

// Option configures an FFmpegProcessor.
type Option func(*FFmpegProcessor)

// WithPreset sets the libx264 preset used for concatenation.
func WithPreset(preset string) Option {
	return func(p *FFmpegProcessor) {
		if preset != "" {
			p.preset = preset
		}
	}
}

// WithCRF sets the constant rate factor used for concatenation.
func WithCRF(crf int) Option {
	return func(p *FFmpegProcessor) {
		if crf >= 0 && crf <= 51 {
			p.crf = crf
		}
	}
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string, opts ...Option) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	p := &FFmpegProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		preset:      "fast",
		crf:         23,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProbeResolution reads the first video stream's display size. Streams
// carrying a quarter-turn rotation report their width and height swapped,
// matching the frames ffmpeg decodes after autorotation.
func (p *FFmpegProcessor) ProbeResolution(ctx context.Context, path string) (Resolution, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path,
	}

	out, err := p.run(ctx, p.ffprobePath, args)
	if err != nil {
		return Resolution{}, err
	}

	return parseResolution(out)
}

type probeOutput struct {
	Streams []struct {
		Width        int `json:"width"`
		Height       int `json:"height"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
		Tags struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
	} `json:"streams"`
}

// parseResolution parses ffprobe's JSON stream description into a display
// resolution.
func parseResolution(out string) (Resolution, error) {
	if strings.TrimSpace(out) == "" {
		return Resolution{}, ErrEmptyProbeOutput
	}

	var probe probeOutput
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrInvalidResolution, err)
	}
	if len(probe.Streams) == 0 {
		return Resolution{}, ErrEmptyProbeOutput
	}

	s := probe.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Resolution{}, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, s.Width, s.Height)
	}

	// The display matrix wins over the legacy rotate tag.
	rotation := 0.0
	if r, err := strconv.ParseFloat(s.Tags.Rotate, 64); err == nil {
		rotation = r
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != nil {
			rotation = *sd.Rotation
			break
		}
	}

	if quarterTurn(rotation) {
		return Resolution{Width: s.Height, Height: s.Width}, nil
	}
	return Resolution{Width: s.Width, Height: s.Height}, nil
}

// quarterTurn reports whether a rotation in degrees is an odd multiple of 90.
func quarterTurn(degrees float64) bool {
	r := int(math.Round(degrees)) % 360
	if r < 0 {
		r += 360
	}
	return r == 90 || r == 270
}

// ProbeDuration returns the container duration of a media file.
func (p *FFmpegProcessor) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	out, err := p.run(ctx, p.ffprobePath, args)
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, strings.TrimSpace(out))
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// ExtractThumbnail writes the frame at offset at as a JPEG still.
func (p *FFmpegProcessor) ExtractThumbnail(ctx context.Context, src, dst string, at time.Duration) error {
	args := []string{
		"-y",
		"-ss", formatSeconds(at), // Input seek lands on the frame at the offset
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		dst,
	}

	if _, err := p.run(ctx, p.ffmpegPath, args); err != nil {
		return err
	}

	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrameExtracted, formatSeconds(at))
	}
	return nil
}

// ConcatWithOutro joins src and outro into a single re-encoded video stream.
// Both inputs are fitted into size without changing their aspect ratio,
// because the concat filter requires matching dimensions. Audio is dropped.
func (p *FFmpegProcessor) ConcatWithOutro(ctx context.Context, src, outro, dst string, size Resolution) error {
	if size.Width <= 0 || size.Height <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, size.Width, size.Height)
	}

	args := []string{
		"-y",
		"-i", src,
		"-i", outro,
		"-filter_complex", concatFilter(size),
		"-map", "[outv]",
		"-an",
		"-c:v", "libx264",
		"-preset", p.preset,
		"-crf", strconv.Itoa(p.crf),
		"-pix_fmt", "yuv420p",
		"-force_key_frames", "expr:gte(t,n_forced*1)", // Keyframe on every 1s boundary
		"-movflags", "+faststart",
		dst,
	}

	_, err := p.run(ctx, p.ffmpegPath, args)
	return err
}

// concatFilter builds the filter graph for ConcatWithOutro. yuv420p needs
// even dimensions, so the canvas is rounded down to the nearest even size.
// Each input is scaled to fit inside it and letterboxed, never stretched.
func concatFilter(size Resolution) string {
	w := size.Width - size.Width%2
	h := size.Height - size.Height%2
	if w == 0 {
		w = 2
	}
	if h == 0 {
		h = 2
	}
	fit := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1", w, h, w, h)
	return "[0:v]" + fit + "[v0];" +
		"[1:v]" + fit + "[v1];" +
		"[v0][v1]concat=n=2:v=1:a=0[outv]"
}

// EmbedThumbnail muxes thumbnail into video as cover art with stream copy.
func (p *FFmpegProcessor) EmbedThumbnail(ctx context.Context, video, thumbnail, tmp string) error {
	args := []string{
		"-y",
		"-i", video,
		"-i", thumbnail,
		"-map", "0",
		"-map", "1",
		"-c", "copy",
		"-disposition:v:1", "attached_pic",
		"-movflags", "+faststart",
		tmp,
	}

	if _, err := p.run(ctx, p.ffmpegPath, args); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, video); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace output with covered video: %w", err)
	}
	return nil
}

// run executes tool with the given arguments and returns its stdout. A
// failure carries the stderr output in a *ToolError.
func (p *FFmpegProcessor) run(ctx context.Context, tool string, args []string) (string, error) {
	// #nosec G204 - tool paths are set by the application, not user input
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s cancelled: %w", tool, ctx.Err())
		}
		return "", &ToolError{
			Tool:   tool,
			Args:   args,
			Stderr: tail(stderr.String(), maxStderr),
			Err:    err,
		}
	}

	return stdout.String(), nil
}

// ToolError represents a failed ffmpeg or ffprobe invocation, including its
// stderr output.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s error: %v\nargs: %v\nstderr: %s", e.Tool, e.Err, e.Args, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the last meaningful stderr line, suitable for showing
// to a caller.
func (e *ToolError) Diagnostic() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return e.Err.Error()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)
