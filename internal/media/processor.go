// Package media provides the external media-tool operations of the outro
// pipeline: resolution probing, thumbnail extraction, concatenation and
// cover embedding.
package media

import (
	"context"
	"fmt"
	"time"
)

// Resolution is a video stream's pixel size.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Processor defines the media operations the pipeline needs.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// ProbeResolution reads the width and height of the first video stream.
	ProbeResolution(ctx context.Context, path string) (Resolution, error)

	// ProbeDuration returns the container duration.
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)

	// ExtractThumbnail writes the single frame at offset at from src to dst
	// as a still image. It fails if no frame was written.
	ExtractThumbnail(ctx context.Context, src, dst string, at time.Duration) error

	// ConcatWithOutro re-encodes src followed by outro into dst as one
	// video-only stream sized like src, with a keyframe every second and the
	// index moved to the front of the file.
	ConcatWithOutro(ctx context.Context, src, outro, dst string, size Resolution) error

	// EmbedThumbnail muxes thumbnail into video as an attached picture without
	// re-encoding, writing to tmp and then renaming tmp over video.
	// On error video is left untouched.
	EmbedThumbnail(ctx context.Context, video, thumbnail, tmp string) error
}
