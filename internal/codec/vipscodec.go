package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"pixelpress/internal/formats"

	"github.com/davidbyttow/govips/v2/vips"
)

// vipsCodec encodes webp, avif and jxl through libvips. The decoded image
// crosses into vips as a lossless png buffer; the cost is small next to the
// target encode and keeps the codec free of pixel-layout assumptions.
type vipsCodec struct {
	format formats.Format
}

func (c *vipsCodec) Format() formats.Format { return c.format }

func (c *vipsCodec) Encode(ctx context.Context, img image.Image, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := importImage(img)
	if err != nil {
		return nil, fmt.Errorf("vips import: %w", err)
	}
	defer ref.Close()

	var out []byte
	switch c.format {
	case formats.WebP:
		out, _, err = ref.ExportWebp(&vips.WebpExportParams{
			Quality:         percentQuality(opts.Quality),
			Lossless:        opts.Lossless,
			ReductionEffort: 2,
			StripMetadata:   true,
		})
	case formats.AVIF:
		out, _, err = ref.ExportAvif(avifParams(opts))
	case formats.JXL:
		out, _, err = ref.ExportJxl(jxlParams(opts))
	default:
		return nil, fmt.Errorf("vips codec cannot encode %q", c.format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", c.format, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s encode produced no bytes", c.format)
	}
	return out, nil
}

// avifParams tunes libheif for speed over density: the quality axis drives
// the byte size, a high speed setting keeps per-attempt cost low for the
// target-size search.
func avifParams(opts Options) *vips.AvifExportParams {
	return &vips.AvifExportParams{
		Quality:       percentQuality(opts.Quality),
		Lossless:      opts.Lossless,
		Speed:         8,
		StripMetadata: true,
	}
}

// jxlParams keeps effort low for the same reason.
func jxlParams(opts Options) *vips.JxlExportParams {
	return &vips.JxlExportParams{
		Quality:  percentQuality(opts.Quality),
		Lossless: opts.Lossless,
		Effort:   3,
	}
}

func importImage(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return vips.NewImageFromBuffer(buf.Bytes())
}
