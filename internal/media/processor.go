// Package media wraps the external encode/concat tool.
package media

import "context"

// EncodeOptions fixes the output parameters of an encode.
type EncodeOptions struct {
	FPS         float64
	VideoCodec  string
	PixelFormat string
}

// DefaultEncodeOptions returns the codec/pixel-format pair used for every
// stitched output at the given frame rate.
func DefaultEncodeOptions(fps float64) EncodeOptions {
	return EncodeOptions{
		FPS:         fps,
		VideoCodec:  "libx264",
		PixelFormat: "yuv420p",
	}
}

// Encoder defines the encode and concatenation operations the stitch stage
// needs. A non-nil error means the tool reported failure; output files of a
// failed call must be ignored.
type Encoder interface {
	// Reencode converts src into dst at the given frame rate and codec.
	Reencode(ctx context.Context, src, dst string, opts EncodeOptions) error

	// Concat joins srcs in order into dst, re-encoding every input.
	Concat(ctx context.Context, srcs []string, dst string, opts EncodeOptions) error
}

// FrameExtractor grabs single stills from a video.
type FrameExtractor interface {
	// ExtractFrame writes frame n (zero-based) of src to dst as a JPEG.
	ExtractFrame(ctx context.Context, src, dst string, n int) error
}
