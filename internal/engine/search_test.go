package engine

import (
	"context"
	"image"
	"testing"

	"pixelpress/internal/codec"
	"pixelpress/internal/formats"
)

// oversizeCodec always produces ten times the given budget, so no search
// can ever get under target.
type oversizeCodec struct {
	format  formats.Format
	size    int
	encodes int
}

func (c *oversizeCodec) Format() formats.Format { return c.format }

func (c *oversizeCodec) Encode(context.Context, image.Image, codec.Options) ([]byte, error) {
	c.encodes++
	return make([]byte, c.size), nil
}

type singleCodecRegistry struct {
	c codec.Codec
}

func (r *singleCodecRegistry) Lookup(formats.Format) (codec.Codec, error) { return r.c, nil }
func (r *singleCodecRegistry) Warmup(context.Context) error              { return nil }

func TestSearchConverges(t *testing.T) {
	reg := newFakeRegistry(formats.JPEG)
	e := New(reg, fixedChains{})

	target := 50 * 1024
	res, err := e.Search(context.Background(), grayImage(1200, 900), 0, 0, formats.JPEG, target, SearchConfig{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.ByteSize > target {
		t.Errorf("ByteSize = %d, want <= %d", res.ByteSize, target)
	}
	if !res.Converged {
		t.Error("search should report convergence when under target")
	}
	if res.ByteSize < int(0.85*float64(target)) {
		t.Errorf("ByteSize = %d, want >= tolerance fill %d", res.ByteSize, int(0.85*float64(target)))
	}
}

func TestSearchPreDownscaleScenario(t *testing.T) {
	// 4000x3000 source, 100 KiB jpeg target with an unbounded envelope:
	// the search must pre-downscale (target small, canvas large) and
	// converge into [85 KiB, 115 KiB] within the attempt budget.
	reg := newFakeRegistry(formats.JPEG)
	e := New(reg, fixedChains{})
	cfg := DefaultSearchConfig()

	target := 100 * 1024
	res, err := e.Search(context.Background(), grayImage(4000, 3000), 0, 0, formats.JPEG, target, cfg)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if res.Width > int(4000*preShrinkFactor) {
		t.Errorf("width = %d, expected pre-downscale below %d", res.Width, int(4000*preShrinkFactor))
	}
	if res.ByteSize < 85*1024 || res.ByteSize > 115*1024 {
		t.Errorf("ByteSize = %d, want within [85 KiB, 115 KiB]", res.ByteSize)
	}

	bound := cfg.MaxAttempts * (cfg.MaxResizes + 1)
	if got := reg.codecs[formats.JPEG].encodes; got > bound {
		t.Errorf("search used %d encode calls, bound is %d", got, bound)
	}
}

func TestSearchTerminationWhenUnreachable(t *testing.T) {
	// A codec that can never get under target must still terminate inside
	// the documented bound and return a soft, non-converged result.
	target := 20 * 1024
	c := &oversizeCodec{format: formats.JPEG, size: target * 10}
	e := New(&singleCodecRegistry{c: c}, fixedChains{})
	cfg := DefaultSearchConfig()

	res, err := e.Search(context.Background(), grayImage(1000, 1000), 0, 0, formats.JPEG, target, cfg)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res == nil {
		t.Fatal("Search() must return the last attempt, not nil")
	}
	if res.Converged {
		t.Error("unreachable target must not report convergence")
	}
	if res.ByteSize <= target {
		t.Error("test premise broken: result should exceed target")
	}

	bound := cfg.MaxAttempts * (cfg.MaxResizes + 1)
	if c.encodes > bound {
		t.Errorf("search used %d encode calls, bound is %d", c.encodes, bound)
	}
}

func TestSearchReachability(t *testing.T) {
	// Whenever minimum quality at minimum dimensions satisfies the budget,
	// the search must find something under target.
	reg := newFakeRegistry(formats.JPEG)
	e := New(reg, fixedChains{})
	cfg := DefaultSearchConfig()

	target := MinTargetBytes

	// Sanity: the floor configuration fits the budget under the model.
	if floor := sizeModel(cfg.MinDimension, cfg.MinDimension, MinQuality); floor > target {
		t.Fatalf("test premise broken: floor size %d > target %d", floor, target)
	}

	res, err := e.Search(context.Background(), grayImage(800, 600), 0, 0, formats.JPEG, target, cfg)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.ByteSize > target {
		t.Errorf("ByteSize = %d, want <= %d (reachable target)", res.ByteSize, target)
	}
	if !res.Converged {
		t.Error("reachable target should converge")
	}
}

func TestSearchLosslessCollapsesBracket(t *testing.T) {
	// png has no quality axis: an over-target attempt must immediately
	// fall through to the resize escape hatch instead of bisecting.
	target := 20 * 1024
	c := &oversizeCodec{format: formats.PNG, size: target * 4}
	e := New(&singleCodecRegistry{c: c}, fixedChains{formats.PNG: {formats.PNG}})
	cfg := DefaultSearchConfig()

	_, err := e.Search(context.Background(), grayImage(2000, 2000), 0, 0, formats.PNG, target, cfg)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// One attempt per resolution at most: the bracket collapses on the
	// first oversize result every time.
	if c.encodes > cfg.MaxResizes+1 {
		t.Errorf("lossless search used %d encodes, want <= %d", c.encodes, cfg.MaxResizes+1)
	}
}

func TestSearchTargetClamped(t *testing.T) {
	reg := newFakeRegistry(formats.JPEG)
	e := New(reg, fixedChains{})

	// A one-byte target clamps up to MinTargetBytes; with a tiny source
	// that budget is trivially reachable.
	res, err := e.Search(context.Background(), grayImage(50, 50), 0, 0, formats.JPEG, 1, SearchConfig{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res.ByteSize > MinTargetBytes {
		t.Errorf("ByteSize = %d, want <= clamped target %d", res.ByteSize, MinTargetBytes)
	}
}

func TestSearchConfigurableTolerance(t *testing.T) {
	// A looser tolerance accepts earlier: the loose run must not need
	// more encode calls than the tight run.
	target := 50 * 1024

	tight := newFakeRegistry(formats.JPEG)
	_, err := New(tight, fixedChains{}).Search(context.Background(), grayImage(1200, 900), 0, 0,
		formats.JPEG, target, SearchConfig{Tolerance: 0.95})
	if err != nil {
		t.Fatalf("tight Search() error = %v", err)
	}

	loose := newFakeRegistry(formats.JPEG)
	_, err = New(loose, fixedChains{}).Search(context.Background(), grayImage(1200, 900), 0, 0,
		formats.JPEG, target, SearchConfig{Tolerance: 0.5})
	if err != nil {
		t.Fatalf("loose Search() error = %v", err)
	}

	if loose.codecs[formats.JPEG].encodes > tight.codecs[formats.JPEG].encodes {
		t.Errorf("loose tolerance used %d encodes, tight used %d",
			loose.codecs[formats.JPEG].encodes, tight.codecs[formats.JPEG].encodes)
	}
}

func TestSeedQuality(t *testing.T) {
	cfg := DefaultSearchConfig()
	tests := []struct {
		name   string
		target int
		pixels int
		want   float64
	}{
		{"roomy budget", 300 * 1024, 1000 * 1000, 0.9},
		{"moderate budget", 160 * 1024, 1000 * 1000, 0.8},
		{"tight budget", 90 * 1024, 1000 * 1000, 0.7},
		{"very tight budget", 45 * 1024, 1000 * 1000, 0.55},
		{"starved budget", 10 * 1024, 1000 * 1000, 0.4},
		{"zero pixels", 100, 0, DefaultQuality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seedQuality(tt.target, tt.pixels, cfg); got != tt.want {
				t.Errorf("seedQuality(%d, %d) = %v, want %v", tt.target, tt.pixels, got, tt.want)
			}
		})
	}
}

func TestSearchEncodingErrorPropagates(t *testing.T) {
	reg := newFakeRegistry(formats.JPEG)
	reg.codecs[formats.JPEG].fail = true
	e := New(reg, fixedChains{formats.JPEG: {formats.JPEG}})

	if _, err := e.Search(context.Background(), grayImage(100, 100), 0, 0, formats.JPEG, 50*1024, SearchConfig{}); err == nil {
		t.Error("Search() should surface an exhausted fallback chain as an error")
	}
}
