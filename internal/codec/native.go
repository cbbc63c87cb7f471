package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"pixelpress/internal/formats"
)

// nativeCodec encodes through the standard library. It backs the universal
// baseline formats that must always be available.
type nativeCodec struct {
	format formats.Format
}

func (c *nativeCodec) Format() formats.Format { return c.format }

func (c *nativeCodec) Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch c.format {
	case formats.JPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: percentQuality(opts.Quality)}); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}
	case formats.PNG:
		// PNG has no quality axis; always use best compression.
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("png encode: %w", err)
		}
	default:
		return nil, fmt.Errorf("native codec cannot encode %q", c.format)
	}

	return buf.Bytes(), nil
}

// percentQuality maps normalized quality [0,1] onto the 1..100 scale used by
// jpeg, webp and jxl encoders.
func percentQuality(q float64) int {
	p := int(math.Round(q * 100))
	if p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return p
}
