package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	"pixelpress/internal/logging"

	// Input format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP decode support
)

const (
	// MaxSourceDimension bounds decoded width/height; larger sources are
	// shrunk before any processing to keep memory in check.
	MaxSourceDimension = 8192

	// MaxSourcePixels bounds total decoded pixels (~50MP is ~200MB RGBA).
	MaxSourcePixels = 50_000_000
)

// DecodeBytes decodes raw image bytes into a bitmap, shrinking oversized
// sources to the package limits. It tries the pure-Go decoders first and
// falls back to libvips for formats the standard library cannot read
// (avif, jxl, heif).
func DecodeBytes(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		logging.Debug("pure-Go decode failed (%v), trying libvips", err)
		img, err = decodeWithVips(data)
		if err != nil {
			return nil, fmt.Errorf("decode failed: %w", err)
		}
	}

	return constrainDecoded(img), nil
}

// decodeWithVips round-trips through libvips for containers the stdlib has
// no decoder for.
func decodeWithVips(data []byte) (image.Image, error) {
	if err := InitVips(); err != nil {
		return nil, fmt.Errorf("libvips unavailable: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	// Export as png so the stdlib can take over; lossless keeps the
	// round trip faithful.
	out, _, err := ref.ExportPng(&vips.PngExportParams{Compression: 0})
	if err != nil {
		return nil, fmt.Errorf("vips export: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode vips output: %w", err)
	}
	return img, nil
}

// constrainDecoded shrinks a bitmap that exceeds the package limits,
// constraining first by max dimension and then by total pixel count.
func constrainDecoded(img image.Image) image.Image {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	targetWidth, targetHeight, constrained := constrainTarget(width, height)
	if !constrained {
		return img
	}

	logging.Info("Constraining large source from %dx%d to %dx%d", width, height, targetWidth, targetHeight)
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos)
}

// constrainTarget computes the shrunken dimensions for an oversized source.
// The boolean is false when the source is already within limits.
func constrainTarget(width, height int) (int, int, bool) {
	if width <= MaxSourceDimension && height <= MaxSourceDimension && width*height <= MaxSourcePixels {
		return width, height, false
	}

	targetWidth, targetHeight := width, height
	if width > MaxSourceDimension || height > MaxSourceDimension {
		if width > height {
			targetWidth = MaxSourceDimension
			targetHeight = height * MaxSourceDimension / width
		} else {
			targetHeight = MaxSourceDimension
			targetWidth = width * MaxSourceDimension / height
		}
	}

	if targetWidth*targetHeight > MaxSourcePixels {
		// Pixel count scales with the square of a linear scale factor.
		scale := math.Sqrt(float64(MaxSourcePixels) / float64(targetWidth*targetHeight))
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	return targetWidth, targetHeight, true
}
