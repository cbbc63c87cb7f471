package engine

import (
	"context"
	"image"
	"math"

	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
	"pixelpress/internal/metrics"
)

const (
	// MinTargetBytes and MaxTargetBytes clamp the caller's byte budget.
	MinTargetBytes = 10 * 1024
	MaxTargetBytes = 10 * 1024 * 1024

	// preShrinkTargetBytes / preShrinkDimension gate the heuristic
	// pre-downscale: small targets on large canvases would otherwise
	// burn search iterations before the first plausible attempt.
	preShrinkTargetBytes = 100 * 1024
	preShrinkDimension   = 1600
	preShrinkFactor      = 0.6

	// bracketEpsilon is the quality-bracket width below which the
	// bisection is considered converged.
	bracketEpsilon = 0.02

	// resizeSafety biases the escape-hatch scale slightly low so the
	// next resolution lands under the target rather than on it.
	resizeSafety = 0.95
)

// SearchConfig bounds and tunes the target-size search. The zero value is
// usable; unset fields take defaults.
type SearchConfig struct {
	// MaxAttempts bounds encode calls per resolution.
	MaxAttempts int
	// MaxAttemptsVips is the tighter bound for vips-backed formats, where
	// each attempt is expensive.
	MaxAttemptsVips int
	// MaxResizes bounds how many times the resize escape hatch may fire.
	MaxResizes int
	// Tolerance is the accepted fill fraction of the target: a result at
	// or above Tolerance*target (and under target) stops the search.
	Tolerance float64
	// MaxQuality is the quality search ceiling.
	MaxQuality float64
	// MinDimension is the per-dimension floor after an escape-hatch
	// resize.
	MinDimension int
}

// DefaultSearchConfig returns the standard tuning.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxAttempts:     8,
		MaxAttemptsVips: 5,
		MaxResizes:      3,
		Tolerance:       0.85,
		MaxQuality:      0.95,
		MinDimension:    100,
	}
}

func (c SearchConfig) withDefaults() SearchConfig {
	d := DefaultSearchConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxAttemptsVips <= 0 {
		c.MaxAttemptsVips = d.MaxAttemptsVips
	}
	if c.MaxResizes <= 0 {
		c.MaxResizes = d.MaxResizes
	}
	if c.Tolerance <= 0 || c.Tolerance > 1 {
		c.Tolerance = d.Tolerance
	}
	if c.MaxQuality <= 0 || c.MaxQuality > 1 {
		c.MaxQuality = d.MaxQuality
	}
	if c.MinDimension <= 0 {
		c.MinDimension = d.MinDimension
	}
	return c
}

// searchState is the explicit state of one search; it exists only for the
// duration of a Search call.
type searchState struct {
	width, height  int
	minQuality     float64
	maxQuality     float64
	currentQuality float64
	attempts       int // total encode calls
	resizes        int
	best           *Result
	lastSize       int
}

// Search converges encode output toward targetBytes by bisecting quality,
// falling back to smaller resolutions when the format cannot hit the target
// at the current one. Best effort: the returned result may exceed the
// target (Converged=false); that is a soft outcome, not an error. Encoding
// failures (exhausted fallback chain) are real errors.
//
// Total encode calls are bounded by MaxAttempts*(MaxResizes+1).
func (e *Engine) Search(ctx context.Context, img image.Image, maxWidth, maxHeight int, format formats.Format, targetBytes int, cfg SearchConfig) (*Result, error) {
	cfg = cfg.withDefaults()

	target := targetBytes
	if target < MinTargetBytes {
		target = MinTargetBytes
	}
	if target > MaxTargetBytes {
		target = MaxTargetBytes
	}

	traits, _ := formats.TraitsOf(format)
	maxAttempts := cfg.MaxAttempts
	if traits.VipsBacked {
		maxAttempts = cfg.MaxAttemptsVips
	}

	bounds := img.Bounds()
	width, height := constrainDims(bounds.Dx(), bounds.Dy(), maxWidth, maxHeight)

	// Small target on a large canvas: shrink before the first attempt.
	if target <= preShrinkTargetBytes && (width > preShrinkDimension || height > preShrinkDimension) {
		width = int(float64(width) * preShrinkFactor)
		height = int(float64(height) * preShrinkFactor)
		logging.Debug("search pre-downscale to %dx%d for %d byte target", width, height, target)
	}

	st := &searchState{
		width:      width,
		height:     height,
		minQuality: MinQuality,
		maxQuality: cfg.MaxQuality,
	}
	st.currentQuality = seedQuality(target, st.width*st.height, cfg)

	var last *Result
	for {
		attemptsAtThisSize := 0
		for attemptsAtThisSize < maxAttempts {
			res, err := e.Encode(ctx, img, st.width, st.height, format, st.currentQuality)
			if err != nil {
				return nil, err
			}
			attemptsAtThisSize++
			st.attempts++
			last = res
			st.lastSize = res.ByteSize

			if res.ByteSize <= target {
				if st.best == nil || res.ByteSize > st.best.ByteSize {
					st.best = res
				}
				fill := float64(res.ByteSize) / float64(target)
				if fill >= cfg.Tolerance || st.currentQuality >= cfg.MaxQuality-bracketEpsilon {
					return e.finishSearch(st, st.best, true), nil
				}
				st.minQuality = st.currentQuality
			} else if traits.Lossless {
				// No quality axis to search; force the bracket shut so
				// the resolution fallback takes over.
				st.maxQuality = st.minQuality
			} else {
				st.maxQuality = st.currentQuality
			}

			if st.maxQuality-st.minQuality < bracketEpsilon {
				break
			}
			st.currentQuality = (st.minQuality + st.maxQuality) / 2
		}

		if st.best != nil {
			return e.finishSearch(st, st.best, true), nil
		}

		// The format cannot hit the target at this resolution; try a
		// smaller one, bounded so the search always terminates.
		if st.resizes >= cfg.MaxResizes || st.lastSize == 0 {
			break
		}
		scale := math.Sqrt(float64(target)/float64(st.lastSize)) * resizeSafety
		if scale >= 1 {
			break
		}
		newWidth := scaleFloor(st.width, scale, cfg.MinDimension)
		newHeight := scaleFloor(st.height, scale, cfg.MinDimension)
		if newWidth == st.width && newHeight == st.height {
			break
		}

		logging.Debug("search resize escape: %dx%d -> %dx%d (last %d bytes, target %d)",
			st.width, st.height, newWidth, newHeight, st.lastSize, target)
		st.width, st.height = newWidth, newHeight
		st.minQuality = MinQuality
		st.maxQuality = cfg.MaxQuality
		st.currentQuality = seedQuality(target, st.width*st.height, cfg)
		st.resizes++
		metrics.SearchResizesTotal.Inc()
	}

	// Nothing under target was ever produced; hand back the last attempt
	// as a soft failure.
	converged := last != nil && last.ByteSize <= target
	return e.finishSearch(st, last, converged), nil
}

func (e *Engine) finishSearch(st *searchState, res *Result, converged bool) *Result {
	metrics.SearchIterations.Observe(float64(st.attempts))
	outcome := "best_effort"
	if converged {
		outcome = "converged"
	}
	metrics.SearchOutcomesTotal.WithLabelValues(outcome).Inc()

	if res != nil {
		res.Converged = converged
	}
	return res
}

// scaleFloor shrinks dim by scale, never below floor, and never above the
// current dimension (a too-small source is left alone).
func scaleFloor(dim int, scale float64, floor int) int {
	scaled := int(float64(dim) * scale)
	if scaled < floor {
		scaled = floor
	}
	if scaled > dim {
		scaled = dim
	}
	return scaled
}

// seedQuality picks the starting quality from the target bytes-per-pixel
// density: the less room per pixel, the lower the first attempt.
func seedQuality(targetBytes, pixels int, cfg SearchConfig) float64 {
	if pixels <= 0 {
		return DefaultQuality
	}

	bpp := float64(targetBytes) / float64(pixels)
	var q float64
	switch {
	case bpp >= 0.30:
		q = 0.9
	case bpp >= 0.15:
		q = 0.8
	case bpp >= 0.08:
		q = 0.7
	case bpp >= 0.04:
		q = 0.55
	default:
		q = 0.4
	}

	if q < MinQuality {
		q = MinQuality
	}
	if q > cfg.MaxQuality {
		q = cfg.MaxQuality
	}
	return q
}
