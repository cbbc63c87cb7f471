package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
)

// ErrUnavailable is returned by Lookup when no backend can encode the
// requested format in this process.
var ErrUnavailable = errors.New("codec unavailable")

// Options carries per-encode tuning. Quality is normalized to [0,1]; each
// codec translates it into its own parameter space.
type Options struct {
	Quality  float64
	Lossless bool
}

// Codec converts a decoded image into compressed bytes for one format.
type Codec interface {
	Format() formats.Format
	Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error)
}

// Registry hands out memoized codecs per format. Lookup is lazy: a codec's
// backend is initialized on first use, mirroring on-demand module loading.
type Registry interface {
	Lookup(f formats.Format) (Codec, error)
	// Warmup eagerly initializes every backend so the first real encode
	// doesn't pay startup cost. Best effort: a partial warmup is not fatal.
	Warmup(ctx context.Context) error
}

// NewRegistry returns the default registry: stdlib encoders for jpeg and
// png, libvips for webp, avif and jxl.
func NewRegistry() Registry {
	return &registry{codecs: make(map[formats.Format]Codec)}
}

type registry struct {
	mu     sync.Mutex
	codecs map[formats.Format]Codec
}

func (r *registry) Lookup(f formats.Format) (Codec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.codecs[f]; ok {
		return c, nil
	}

	c, err := r.build(f)
	if err != nil {
		return nil, err
	}
	r.codecs[f] = c
	return c, nil
}

func (r *registry) build(f formats.Format) (Codec, error) {
	traits, ok := formats.TraitsOf(f)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrUnavailable, f)
	}

	switch f {
	case formats.JPEG, formats.PNG:
		return &nativeCodec{format: f}, nil
	case formats.WebP, formats.AVIF, formats.JXL:
		if err := InitVips(); err != nil {
			return nil, fmt.Errorf("%w: %s needs libvips: %v", ErrUnavailable, f, err)
		}
		if traits.RequiresThreads && !Threaded() {
			return nil, fmt.Errorf("%w: %s needs a threaded libvips worker pool", ErrUnavailable, f)
		}
		return &vipsCodec{format: f}, nil
	default:
		return nil, fmt.Errorf("%w: no backend for %q", ErrUnavailable, f)
	}
}

func (r *registry) Warmup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var firstErr error
	for _, f := range formats.Known() {
		if _, err := r.Lookup(f); err != nil {
			logging.Debug("warmup: %s codec unavailable: %v", f, err)
			if firstErr == nil && !errors.Is(err, ErrUnavailable) {
				firstErr = err
			}
		}
	}
	return firstErr
}
