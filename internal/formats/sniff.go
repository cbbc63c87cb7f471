package formats

import "bytes"

// Detect identifies the container format of raw image bytes by magic-byte
// inspection. It returns "" when the data matches no known container.
// Detection is header-only; it never validates the bitstream.
func Detect(data []byte) Format {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return JPEG

	case len(data) >= 8 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return PNG

	case len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50:
		return WebP

	case len(data) >= 12 && data[4] == 0x66 && data[5] == 0x74 && data[6] == 0x79 && data[7] == 0x70:
		brand := string(data[8:12])
		if brand == "avif" || brand == "avis" {
			return AVIF
		}
		return ""

	// JXL codestream
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0x0A:
		return JXL

	// JXL ISOBMFF container
	case len(data) >= 12 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x00 && data[3] == 0x0C &&
		data[4] == 0x4A && data[5] == 0x58 && data[6] == 0x4C && data[7] == 0x20:
		return JXL
	}

	return ""
}

// IsAnimated reports whether the container appears to hold more than one
// frame. This is a heuristic byte-pattern scan, not a decode: animated
// sources keep only their first frame when re-encoded to a still format,
// so callers use this to warn before dropping frames.
func IsAnimated(data []byte) bool {
	switch Detect(data) {
	case WebP:
		return webpAnimated(data)
	case AVIF:
		return len(data) >= 12 && string(data[8:12]) == "avis"
	}

	// GIF is an accepted input even though it is not an output format.
	if len(data) >= 6 && bytes.HasPrefix(data, []byte("GIF8")) {
		return gifFrameCount(data) > 1
	}

	return false
}

// webpAnimated checks the VP8X animation flag and falls back to scanning for
// an ANIM chunk.
func webpAnimated(data []byte) bool {
	if len(data) > 20 && bytes.Equal(data[12:16], []byte("VP8X")) {
		return data[20]&0x02 != 0
	}
	return bytes.Contains(data, []byte("ANIM"))
}

// gifFrameCount counts graphic control extension blocks, which precede each
// frame in practice. Two or more means animation.
func gifFrameCount(data []byte) int {
	count := 0
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0x21 && data[i+1] == 0xF9 && data[i+2] == 0x04 {
			count++
			if count > 1 {
				return count
			}
		}
	}
	return count
}
