package codec

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"pixelpress/internal/formats"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: 128, A: 255})
		}
	}
	return img
}

func TestNativeCodecJPEG(t *testing.T) {
	c := &nativeCodec{format: formats.JPEG}
	data, err := c.Encode(context.Background(), testImage(32, 24), Options{Quality: 0.8})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Encode() returned no bytes")
	}
	if got := formats.Detect(data); got != formats.JPEG {
		t.Errorf("output sniffs as %q, want jpeg", got)
	}
}

func TestNativeCodecPNG(t *testing.T) {
	c := &nativeCodec{format: formats.PNG}
	data, err := c.Encode(context.Background(), testImage(16, 16), Options{Quality: 0.5})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := formats.Detect(data); got != formats.PNG {
		t.Errorf("output sniffs as %q, want png", got)
	}
}

func TestNativeCodecCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &nativeCodec{format: formats.JPEG}
	if _, err := c.Encode(ctx, testImage(4, 4), Options{Quality: 0.5}); !errors.Is(err, context.Canceled) {
		t.Errorf("Encode() error = %v, want context.Canceled", err)
	}
}

func TestPercentQuality(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 1},
		{-1, 1},
		{0.05, 5},
		{0.8, 80},
		{0.804, 80},
		{1, 100},
		{2, 100},
	}

	for _, tt := range tests {
		if got := percentQuality(tt.in); got != tt.want {
			t.Errorf("percentQuality(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRegistryMemoizes(t *testing.T) {
	r := NewRegistry()

	first, err := r.Lookup(formats.JPEG)
	if err != nil {
		t.Fatalf("Lookup(jpeg) error = %v", err)
	}
	second, err := r.Lookup(formats.JPEG)
	if err != nil {
		t.Fatalf("second Lookup(jpeg) error = %v", err)
	}
	if first != second {
		t.Error("Lookup returned distinct codecs for the same format")
	}
}

func TestRegistryUnknownFormat(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(formats.Format("bmp")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Lookup(bmp) error = %v, want ErrUnavailable", err)
	}
}

func TestDecodeBytesRoundTrip(t *testing.T) {
	c := &nativeCodec{format: formats.PNG}
	data, err := c.Encode(context.Background(), testImage(20, 10), Options{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	img, err := DecodeBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("DecodeBytes() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("decoded size = %dx%d, want 20x10", b.Dx(), b.Dy())
	}
}

func TestDecodeBytesEmpty(t *testing.T) {
	if _, err := DecodeBytes(context.Background(), nil); err == nil {
		t.Error("DecodeBytes(nil) should fail")
	}
}

func TestConstrainDecoded(t *testing.T) {
	small := testImage(64, 64)
	if got := constrainDecoded(small); got != small {
		t.Error("small image should pass through unchanged")
	}

	// 10000px exceeds MaxSourceDimension; expect proportional shrink.
	wide := image.NewRGBA(image.Rect(0, 0, 10000, 100))
	got := constrainDecoded(wide)
	if b := got.Bounds(); b.Dx() != MaxSourceDimension {
		t.Errorf("constrained width = %d, want %d", b.Dx(), MaxSourceDimension)
	}
}

func TestConstrainTargetPixelBudget(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		constrained   bool
	}{
		{"within limits", 4000, 3000, false},
		{"at the dimension cap", MaxSourceDimension, MaxSourceDimension, true},
		{"both constraints", 12000, 9000, true},
		{"tall", 5000, 10001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, constrained := constrainTarget(tt.width, tt.height)
			if constrained != tt.constrained {
				t.Fatalf("constrained = %v, want %v", constrained, tt.constrained)
			}
			if !constrained {
				if w != tt.width || h != tt.height {
					t.Errorf("unconstrained dims changed: %dx%d", w, h)
				}
				return
			}

			if w > MaxSourceDimension || h > MaxSourceDimension {
				t.Errorf("%dx%d exceeds the dimension cap", w, h)
			}
			if pixels := w * h; pixels > MaxSourcePixels {
				t.Errorf("%dx%d = %d pixels, over the %d budget", w, h, pixels, MaxSourcePixels)
			}

			// Aspect ratio survives within rounding.
			srcRatio := float64(tt.width) / float64(tt.height)
			gotRatio := float64(w) / float64(h)
			if gotRatio < srcRatio*0.99 || gotRatio > srcRatio*1.01 {
				t.Errorf("aspect ratio drifted: %v -> %v", srcRatio, gotRatio)
			}
		})
	}
}

func TestConstrainTargetFillsPixelBudget(t *testing.T) {
	// 8192x8192 passes the per-dimension check but exceeds the pixel
	// budget; the shrink should land just under the budget, not well
	// below it.
	w, h, constrained := constrainTarget(8192, 8192)
	if !constrained {
		t.Fatal("expected constraint to apply")
	}
	pixels := w * h
	if pixels > MaxSourcePixels {
		t.Fatalf("%d pixels over the %d budget", pixels, MaxSourcePixels)
	}
	if pixels < int(float64(MaxSourcePixels)*0.95) {
		t.Errorf("%d pixels is far under the %d budget", pixels, MaxSourcePixels)
	}
}
