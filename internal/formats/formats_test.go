package formats

import (
	"bytes"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"jpeg", JPEG, false},
		{"jpg", JPEG, false},
		{"JPG", JPEG, false},
		{" png ", PNG, false},
		{"webp", WebP, false},
		{"avif", AVIF, false},
		{"jxl", JXL, false},
		{"jpeg-xl", JXL, false},
		{"bmp", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTraitsTable(t *testing.T) {
	for _, f := range Known() {
		tr, ok := TraitsOf(f)
		if !ok {
			t.Fatalf("TraitsOf(%q) missing", f)
		}
		if tr.Extension == "" || tr.MimeType == "" {
			t.Errorf("%q has empty extension or MIME type", f)
		}
		if tr.NativeEncode == tr.VipsBacked {
			t.Errorf("%q must be exactly one of native or vips-backed", f)
		}
	}

	jxl, _ := TraitsOf(JXL)
	if !jxl.RequiresThreads {
		t.Error("jxl should require a threaded libvips build")
	}
	png, _ := TraitsOf(PNG)
	if !png.Lossless {
		t.Error("png should be lossless")
	}
	jpeg, _ := TraitsOf(JPEG)
	if jpeg.Alpha || jpeg.Animation || jpeg.Lossless {
		t.Error("jpeg should be lossy, still, opaque")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, JPEG},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, PNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), WebP},
		{"avif", append([]byte{0, 0, 0, 0x1C}, []byte("ftypavif")...), AVIF},
		{"avif sequence", append([]byte{0, 0, 0, 0x1C}, []byte("ftypavis")...), AVIF},
		{"jxl codestream", []byte{0xFF, 0x0A, 0x00}, JXL},
		{"jxl container", []byte{0x00, 0x00, 0x00, 0x0C, 0x4A, 0x58, 0x4C, 0x20, 0x0D, 0x0A, 0x87, 0x0A}, JXL},
		{"heic is not avif", append([]byte{0, 0, 0, 0x1C}, []byte("ftypheic")...), ""},
		{"empty", nil, ""},
		{"garbage", []byte("not an image at all"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAnimated(t *testing.T) {
	// GIF with two graphic control extensions
	animatedGIF := bytes.Join([][]byte{
		[]byte("GIF89a"),
		{0x21, 0xF9, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00},
		{0x21, 0xF9, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00},
	}, nil)
	stillGIF := bytes.Join([][]byte{
		[]byte("GIF89a"),
		{0x21, 0xF9, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00},
	}, nil)

	// VP8X header with the animation flag set / cleared
	animatedWebP := []byte("RIFF\x00\x00\x00\x00WEBPVP8X\x00\x00\x00\x00\x02\x00\x00\x00\x00")
	stillWebP := []byte("RIFF\x00\x00\x00\x00WEBPVP8X\x00\x00\x00\x00\x00\x00\x00\x00\x00")

	avifSequence := append([]byte{0, 0, 0, 0x1C}, []byte("ftypavis")...)
	avifStill := append([]byte{0, 0, 0, 0x1C}, []byte("ftypavif")...)

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"animated gif", animatedGIF, true},
		{"still gif", stillGIF, false},
		{"animated webp", animatedWebP, true},
		{"still webp", stillWebP, false},
		{"avif sequence", avifSequence, true},
		{"still avif", avifStill, false},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAnimated(tt.data); got != tt.want {
				t.Errorf("IsAnimated() = %v, want %v", got, tt.want)
			}
		})
	}
}
