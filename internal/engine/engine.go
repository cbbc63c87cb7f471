package engine

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"pixelpress/internal/codec"
	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
	"pixelpress/internal/metrics"

	"github.com/disintegration/imaging"
)

const (
	// DefaultQuality is used when the caller supplies no quality.
	DefaultQuality = 0.8

	// MinQuality is the lowest quality any encode will be asked for.
	MinQuality = 0.05

	// previewMaxDim bounds the derived preview for non-displayable results.
	previewMaxDim = 320

	// previewQuality is the fixed quality of derived previews.
	previewQuality = 0.75
)

// ChainResolver supplies the ordered fallback chain for a requested format.
type ChainResolver interface {
	FallbackOrder(requested formats.Format) []formats.Format
}

// Engine resizes a decoded bitmap into a pixel envelope and encodes it,
// walking the fallback chain until one format succeeds.
type Engine struct {
	reg    codec.Registry
	chains ChainResolver
}

// New creates an engine over the given codec registry and chain resolver.
func New(reg codec.Registry, chains ChainResolver) *Engine {
	return &Engine{reg: reg, chains: chains}
}

// Result is one successful encode.
type Result struct {
	// Bytes is the encoded output.
	Bytes []byte
	// ByteSize is len(Bytes), kept separate so results can be reported
	// after the payload has been handed off.
	ByteSize int
	// Format is the format actually used; it may differ from the request
	// when the chain fell back.
	Format formats.Format
	// Width and Height are the encoded dimensions.
	Width, Height int
	// Displayable reports whether common viewers render Format directly.
	// When false, callers derive a preview via Preview.
	Displayable bool
	// Converged is false only for target-size searches that could not
	// reach the byte budget; the result is still the best found.
	Converged bool
}

// AttemptFailure records one failed format attempt.
type AttemptFailure struct {
	Format formats.Format
	Err    error
}

// EncodingError reports that every format in the fallback chain failed.
type EncodingError struct {
	Requested formats.Format
	Attempts  []AttemptFailure
}

func (e *EncodingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all formats failed encoding %s request:", e.Requested)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, " %s: %v;", a.Format, a.Err)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Encode resizes img into the (maxWidth, maxHeight) envelope and encodes it
// at the given normalized quality, attempting formats in fallback order.
// maxWidth/maxHeight <= 0 mean unbounded. It fails only when every chain
// member fails, and then with *EncodingError.
func (e *Engine) Encode(ctx context.Context, img image.Image, maxWidth, maxHeight int, format formats.Format, quality float64) (*Result, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}

	bounds := img.Bounds()
	width, height := constrainDims(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	resized := img
	if width != bounds.Dx() || height != bounds.Dy() {
		resized = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	chain := e.chains.FallbackOrder(format)
	failures := make([]AttemptFailure, 0, len(chain))

	for _, f := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := e.encodeOne(ctx, resized, f, quality)
		if err != nil {
			failures = append(failures, AttemptFailure{Format: f, Err: err})
			logging.Debug("encode %s failed, trying next in chain: %v", f, err)
			continue
		}

		if f != format {
			metrics.EncodeFallbacksTotal.WithLabelValues(string(format), string(f)).Inc()
			logging.Debug("encode fell back from %s to %s", format, f)
		}

		traits, _ := formats.TraitsOf(f)
		return &Result{
			Bytes:       out,
			ByteSize:    len(out),
			Format:      f,
			Width:       width,
			Height:      height,
			Displayable: traits.Displayable,
			Converged:   true,
		}, nil
	}

	return nil, &EncodingError{Requested: format, Attempts: failures}
}

// encodeOne runs a single format attempt and records its metrics.
func (e *Engine) encodeOne(ctx context.Context, img image.Image, f formats.Format, quality float64) ([]byte, error) {
	c, err := e.reg.Lookup(f)
	if err != nil {
		metrics.EncodeAttemptsTotal.WithLabelValues(string(f), "unavailable").Inc()
		return nil, err
	}

	traits, _ := formats.TraitsOf(f)
	start := time.Now()
	out, err := c.Encode(ctx, img, codec.Options{Quality: quality, Lossless: traits.Lossless})
	metrics.EncodeDuration.WithLabelValues(string(f)).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.EncodeAttemptsTotal.WithLabelValues(string(f), "error").Inc()
		return nil, err
	case len(out) == 0:
		metrics.EncodeAttemptsTotal.WithLabelValues(string(f), "empty").Inc()
		return nil, fmt.Errorf("%s encoder returned no bytes", f)
	default:
		metrics.EncodeAttemptsTotal.WithLabelValues(string(f), "ok").Inc()
		return out, nil
	}
}

// Preview produces a small, always-displayable jpeg rendition of img for
// results whose format viewers cannot render directly.
func (e *Engine) Preview(ctx context.Context, img image.Image) ([]byte, error) {
	c, err := e.reg.Lookup(formats.JPEG)
	if err != nil {
		return nil, fmt.Errorf("preview codec: %w", err)
	}

	thumb := imaging.Fit(img, previewMaxDim, previewMaxDim, imaging.Lanczos)
	out, err := c.Encode(ctx, thumb, codec.Options{Quality: previewQuality})
	if err != nil {
		return nil, fmt.Errorf("preview encode: %w", err)
	}
	return out, nil
}

// constrainDims fits (width, height) into the envelope preserving aspect
// ratio: width is constrained first, then height if still exceeding. Both
// dimensions floor at 1. Non-positive limits mean unbounded.
func constrainDims(width, height, maxWidth, maxHeight int) (int, int) {
	if maxWidth > 0 && width > maxWidth {
		height = height * maxWidth / width
		width = maxWidth
	}
	if maxHeight > 0 && height > maxHeight {
		width = width * maxHeight / height
		height = maxHeight
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}
