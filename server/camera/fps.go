package camera

import (
	"math"
	"slices"
	"time"
)

// DefaultClipFPS is used when we haven't seen enough frames to measure the stream rate
const DefaultClipFPS = 10

// Clip writers only accept whole frame rates in this range
const (
	minClipFPS = 1
	maxClipFPS = 60
)

// EstimateFPS returns the frame rate implied by the median of a set of consecutive
// frame intervals, rounded to a whole number.
// Uses the median, so an occasional stall does not skew the result.
func EstimateFPS(frameIntervals []time.Duration, fallback float64) float64 {
	if len(frameIntervals) == 0 {
		return fallback
	}
	sorted := slices.Clone(frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid <= 0 {
		return fallback
	}
	fps := math.Round(float64(time.Second) / float64(mid))
	return min(max(fps, minClipFPS), maxClipFPS)
}
