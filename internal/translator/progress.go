package translator

import (
	"time"
)

// FallbackSecondsPerBatch is the per-batch guess used before enough work
// has finished to extrapolate.
const FallbackSecondsPerBatch = 3.0

// Progress is a point-in-time view of a running dispatch.
type Progress struct {
	Progress              float64
	TotalStrings          int
	TranslatedStrings     int
	CachedStrings         int
	CurrentBatch          int
	TotalBatches          int
	Stats                 Stats
	ETASeconds            *int
	EstimatedTotalSeconds *int
}

// ProgressFunc is called after every finished batch.
type ProgressFunc func(Progress)

// Ratio returns processed/total, or 0 when total is 0.
func Ratio(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(processed) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}

// EstimateTimes derives the ETA and the expected total duration. Both are nil
// until at least one string has been processed.
func EstimateTimes(processed, total int, elapsed time.Duration, completedBatches, totalBatches, parallel int) (eta, estimatedTotal *int) {
	if processed <= 0 || total <= 0 {
		return nil, nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	ratio := float64(processed) / float64(total)
	avg := elapsed.Seconds() / float64(processed)
	remaining := total - processed
	if remaining < 0 {
		remaining = 0
	}

	etaSeconds := float64(remaining) * avg
	if effective := min(parallel, totalBatches-completedBatches); effective > 0 {
		etaSeconds /= float64(effective)
	}
	e := int(etaSeconds)

	var t int
	if ratio > 0.01 {
		t = int(elapsed.Seconds() / ratio)
	} else {
		remainingBatches := totalBatches - completedBatches
		if remainingBatches < 0 {
			remainingBatches = 0
		}
		t = int(float64(remainingBatches) / float64(parallel) * FallbackSecondsPerBatch)
	}
	return &e, &t
}
