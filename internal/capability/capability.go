package capability

import (
	"context"
	"encoding/base64"
	"image"
	"sync"
	"time"

	"pixelpress/internal/codec"
	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
)

// DecodeProbeTimeout bounds the native-decode probe so a slow or wedged
// decoder cannot stall startup.
const DecodeProbeTimeout = 150 * time.Millisecond

// Capability reports what one format can do in this process.
type Capability struct {
	Format formats.Format `json:"format"`
	// Supported means the format can be produced, directly or via its
	// backend, and may appear in fallback chains.
	Supported bool `json:"supported"`
	// NativeEncode mirrors the static trait: encodable without libvips.
	NativeEncode bool `json:"nativeEncode"`
	// VipsEncode means the libvips backend for this format is usable.
	VipsEncode bool `json:"vipsEncode"`
	// RequiresThreads mirrors the static trait.
	RequiresThreads bool `json:"requiresThreads"`
	// Lossless mirrors the static trait.
	Lossless bool `json:"lossless"`
	// Displayable mirrors the static trait; non-displayable results get a
	// derived preview.
	Displayable bool `json:"displayable"`
	// Decodable reports whether this process can read the format as input.
	// Probed only where it is in doubt (avif); assumed true elsewhere.
	Decodable bool `json:"decodable"`
}

// Resolver probes format capabilities once and answers fallback-order
// queries from the result. Resolve never fails: an unprobeable format
// degrades to unsupported and chains always land on jpeg.
type Resolver struct {
	mu       sync.RWMutex
	resolved bool
	caps     map[formats.Format]Capability

	reg codec.Registry

	// decodeProbe is swapped out in tests.
	decodeProbe  func(ctx context.Context, data []byte) error
	probeTimeout time.Duration
}

// NewResolver creates a resolver over the given codec registry.
func NewResolver(reg codec.Registry) *Resolver {
	return &Resolver{
		reg: reg,
		decodeProbe: func(ctx context.Context, data []byte) error {
			_, err := codec.DecodeBytes(ctx, data)
			return err
		},
		probeTimeout: DecodeProbeTimeout,
	}
}

// Resolve probes every known format and returns the capability map.
// Idempotent: probing happens once; later calls return the cached result.
func (r *Resolver) Resolve(ctx context.Context) map[formats.Format]Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return r.snapshot()
	}

	caps := make(map[formats.Format]Capability, len(formats.Known()))
	for _, f := range formats.Known() {
		caps[f] = r.probeFormat(ctx, f)
	}

	// jpeg and png are the universal baseline; they are supported no
	// matter what the probe said.
	for _, f := range []formats.Format{formats.JPEG, formats.PNG} {
		c := caps[f]
		c.Supported = true
		caps[f] = c
	}

	if avif := caps[formats.AVIF]; avif.Supported {
		avif.Decodable = r.probeDecode(ctx, avifSample())
		if !avif.Decodable {
			logging.Warn("avif decode probe failed or timed out; avif inputs will be rejected")
		}
		caps[formats.AVIF] = avif
	}

	r.caps = caps
	r.resolved = true

	for _, f := range formats.Known() {
		c := caps[f]
		logging.Info("format %s: supported=%v native=%v vips=%v decodable=%v",
			f, c.Supported, c.NativeEncode, c.VipsEncode, c.Decodable)
	}

	return r.snapshot()
}

// probeFormat attempts a trivial encode of a 1x1 surface through the
// format's codec. Success means the backend works end to end.
func (r *Resolver) probeFormat(ctx context.Context, f formats.Format) Capability {
	traits, _ := formats.TraitsOf(f)
	result := Capability{
		Format:          f,
		NativeEncode:    traits.NativeEncode,
		RequiresThreads: traits.RequiresThreads,
		Lossless:        traits.Lossless,
		Displayable:     traits.Displayable,
		Decodable:       true,
	}

	c, err := r.reg.Lookup(f)
	if err != nil {
		logging.Debug("capability probe: %s codec lookup failed: %v", f, err)
		return result
	}

	probe := image.NewRGBA(image.Rect(0, 0, 1, 1))
	out, err := c.Encode(ctx, probe, codec.Options{Quality: 0.8})
	if err != nil || len(out) == 0 {
		logging.Debug("capability probe: %s trial encode failed: %v", f, err)
		return result
	}

	result.Supported = true
	result.VipsEncode = traits.VipsBacked
	return result
}

// probeDecode races one decode of the sample against the probe deadline.
// The decode goroutine is abandoned on timeout; it holds no locks and its
// result is discarded.
func (r *Resolver) probeDecode(ctx context.Context, sample []byte) bool {
	if len(sample) == 0 {
		return false
	}

	done := make(chan error, 1)
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	go func() {
		done <- r.decodeProbe(probeCtx, sample)
	}()

	select {
	case err := <-done:
		return err == nil
	case <-probeCtx.Done():
		return false
	}
}

// Supported reports whether f resolved as usable. Resolve must have run.
func (r *Resolver) Supported(f formats.Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[f].Supported
}

// Capabilities returns the resolved capability set in stable format order.
func (r *Resolver) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.caps))
	for _, f := range formats.Known() {
		if c, ok := r.caps[f]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Invalidate drops the cached capability set so the next Resolve re-probes.
// Only called when a fatal backend constraint is detected mid-session.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.resolved = false
	r.caps = nil
	r.mu.Unlock()
}

func (r *Resolver) snapshot() map[formats.Format]Capability {
	out := make(map[formats.Format]Capability, len(r.caps))
	for k, v := range r.caps {
		out[k] = v
	}
	return out
}

// avifSampleB64 is a 1x1 AVIF image, the same blob browsers use for AVIF
// feature detection.
const avifSampleB64 = "AAAAIGZ0eXBhdmlmAAAAAGF2aWZtaWYxbWlhZk1BMUIAAADybWV0YQAAAAAAAAAoaGRscgAAAAAAAAAAcGljdAAAAAAAAAAAAAAAAGxpYmF2aWYAAAAADnBpdG0AAAAAAAEAAAAeaWxvYwAAAABEAAABAAEAAAABAAABGgAAAB0AAAAoaWluZgAAAAAAAQAAABppbmZlAgAAAAABAABhdjAxQ29sb3IAAAAAamlwcnAAAABLaXBjbwAAABRpc3BlAAAAAAAAAAEAAAABAAAAEHBpeGkAAAAAAwgICAAAAAxhdjFDgQ0MAAAAABNjb2xybmNseAACAAIAAYAAAAAXaXBtYQAAAAAAAAABAAEEAQKDBAAAACVtZGF0EgAKCBgANogQEAwgMg8f8D///8WfhwB8+ErK42A="

func avifSample() []byte {
	data, err := base64.StdEncoding.DecodeString(avifSampleB64)
	if err != nil {
		return nil
	}
	return data
}
