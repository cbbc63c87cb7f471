package formats

import (
	"fmt"
	"strings"
)

// Format identifies an output image format.
type Format string

const (
	// JPEG is the universal lossy baseline format.
	JPEG Format = "jpeg"
	// PNG is the universal lossless format.
	PNG Format = "png"
	// WebP supports alpha and animation.
	WebP Format = "webp"
	// AVIF is encoded through libvips (libheif).
	AVIF Format = "avif"
	// JXL is encoded through libvips (libjxl) and needs a threaded build.
	JXL Format = "jxl"
)

// Traits describes the static properties of a format. The table is fixed;
// runtime availability is tracked separately by the capability resolver.
type Traits struct {
	// Extension is the canonical file extension without the leading dot.
	Extension string
	// MimeType is the IANA media type used in HTTP responses.
	MimeType string
	// Alpha reports whether the format can carry an alpha channel.
	Alpha bool
	// Animation reports whether the container can hold multiple frames.
	Animation bool
	// Lossless reports whether the format has no meaningful quality axis.
	Lossless bool
	// NativeEncode reports whether the format is encodable without libvips.
	NativeEncode bool
	// VipsBacked reports whether encoding goes through a libvips codec.
	VipsBacked bool
	// RequiresThreads reports whether the codec needs a multi-threaded
	// libvips build to encode at all.
	RequiresThreads bool
	// Displayable reports whether common viewers render the format without
	// conversion. Non-displayable results need a derived preview.
	Displayable bool
}

var table = map[Format]Traits{
	JPEG: {Extension: "jpg", MimeType: "image/jpeg", NativeEncode: true, Displayable: true},
	PNG:  {Extension: "png", MimeType: "image/png", Alpha: true, Lossless: true, NativeEncode: true, Displayable: true},
	WebP: {Extension: "webp", MimeType: "image/webp", Alpha: true, Animation: true, NativeEncode: true, Displayable: true},
	AVIF: {Extension: "avif", MimeType: "image/avif", Alpha: true, Animation: true, VipsBacked: true},
	JXL:  {Extension: "jxl", MimeType: "image/jxl", Alpha: true, VipsBacked: true, RequiresThreads: true},
}

// order is the stable iteration order for Known.
var order = []Format{JPEG, PNG, WebP, AVIF, JXL}

// Known returns all known formats in stable order.
func Known() []Format {
	out := make([]Format, len(order))
	copy(out, order)
	return out
}

// TraitsOf returns the trait table entry for f.
func TraitsOf(f Format) (Traits, bool) {
	t, ok := table[f]
	return t, ok
}

// Parse normalizes a user-supplied format name. It accepts canonical names
// and common aliases ("jpg", "jpeg-xl").
func Parse(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "webp":
		return WebP, nil
	case "avif":
		return AVIF, nil
	case "jxl", "jpeg-xl", "jpegxl":
		return JXL, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// Valid reports whether f is a known format.
func Valid(f Format) bool {
	_, ok := table[f]
	return ok
}
