package monitor

import (
	"math"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/drishti-agent/edge/pkg/nn"
)

// window is a rolling history that exposes at most 'capacity' of the most recent samples.
// The ring underneath is rounded up to a power of 2.
type window[T any] struct {
	ring     ringbuffer.RingP[T]
	capacity int
}

func newWindow[T any](capacity int) window[T] {
	return window[T]{
		ring:     ringbuffer.NewRingP[T](nextPowerOf2(capacity)),
		capacity: capacity,
	}
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

func (w *window[T]) Add(v T) {
	w.ring.Add(v)
}

func (w *window[T]) Len() int {
	return min(w.ring.Len(), w.capacity)
}

func (w *window[T]) Full() bool {
	return w.Len() == w.capacity
}

// Oldest sample still inside the window
func (w *window[T]) Oldest() T {
	return w.ring.Peek(w.ring.Len() - w.Len())
}

func (w *window[T]) Newest() T {
	return w.ring.Peek(w.ring.Len() - 1)
}

// Values returns the window contents, oldest first
func (w *window[T]) Values() []T {
	n := w.Len()
	start := w.ring.Len() - n
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = w.ring.Peek(start + i)
	}
	return out
}

// Flags of anomalies that have already been escalated for a track
type trackReports struct {
	unattended bool
	fall       bool
	loitering  bool
}

// Track is an object that we've seen in one or more frames
type Track struct {
	ID              int64
	Class           string
	Box             nn.Rect  // Most recent bounding box
	Centroid        nn.Point // Most recent centroid
	PrevCentroid    nn.Point
	HasPrev         bool
	Velocity        float32 // Pixels moved between the last two sightings
	FirstSeen       time.Time
	LastSeen        time.Time
	LastPersonNear  time.Time // Unattended classes only. Zero until a person comes near.
	StationarySince time.Time // Zero when the object is moving

	aspectRatios window[float32]  // People only
	positions    window[nn.Point] // Centroids
	reported     trackReports
}

func newTrack(id int64, det *nn.ObjectDetection, now time.Time, s *Settings) *Track {
	t := &Track{
		ID:           id,
		Class:        det.Class,
		Box:          det.Box,
		Centroid:     det.Box.Center(),
		FirstSeen:    now,
		LastSeen:     now,
		aspectRatios: newWindow[float32](s.FallWindow),
		positions:    newWindow[nn.Point](s.LoiterWindow),
	}
	t.positions.Add(t.Centroid)
	if t.Class == "person" {
		t.aspectRatios.Add(det.Box.AspectRatio())
	}
	return t
}

// observe records a new sighting of the track
func (t *Track) observe(det *nn.ObjectDetection, now time.Time) {
	c := det.Box.Center()
	t.PrevCentroid = t.Centroid
	t.HasPrev = true
	t.Velocity = c.Distance(t.Centroid)
	t.Centroid = c
	t.Box = det.Box
	t.LastSeen = now
	t.positions.Add(c)
	if t.Class == "person" {
		t.aspectRatios.Add(det.Box.AspectRatio())
	}
}

// AspectRatios returns the recent height/width history, oldest first
func (t *Track) AspectRatios() []float32 {
	return t.aspectRatios.Values()
}

// Positions returns the recent centroid history, oldest first
func (t *Track) Positions() []nn.Point {
	return t.positions.Values()
}

// PairKey identifies an interaction cluster. A < B always.
type PairKey struct {
	A, B int64
}

func makePairKey(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{a, b}
}

// Cluster is the interaction state of a pair of people standing close together
type Cluster struct {
	Key      PairKey
	LastSeen time.Time
	scores   window[float64]
	reported bool
}

// Scores returns the recent violence scores, oldest first
func (c *Cluster) Scores() []float64 {
	return c.scores.Values()
}
