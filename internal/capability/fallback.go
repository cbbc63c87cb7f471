package capability

import "pixelpress/internal/formats"

// FallbackOrder returns the ordered chain of formats to attempt for a
// requested format, requested-first and de-duplicated, filtered to formats
// that resolved as supported. The chain always ends on jpeg.
//
// A vips-backed request may land on any native format; a native request
// never falls back to a vips-backed format, so its cost is only ever paid
// when explicitly chosen.
func (r *Resolver) FallbackOrder(requested formats.Format) []formats.Format {
	traits, known := formats.TraitsOf(requested)

	candidates := []formats.Format{requested, formats.WebP, formats.JPEG, formats.PNG}
	if !known {
		candidates = candidates[1:]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var chain []formats.Format
	seen := make(map[formats.Format]bool, len(candidates))
	for _, f := range candidates {
		if seen[f] {
			continue
		}
		seen[f] = true

		ft, _ := formats.TraitsOf(f)
		if f != requested && !traits.VipsBacked && ft.VipsBacked {
			continue
		}
		if !r.caps[f].Supported {
			continue
		}
		chain = append(chain, f)
	}

	// jpeg is always a landing spot even if resolution never ran.
	hasJPEG := false
	for _, f := range chain {
		if f == formats.JPEG {
			hasJPEG = true
			break
		}
	}
	if !hasJPEG {
		chain = append(chain, formats.JPEG)
	}
	return chain
}
