package monitor

import (
	"slices"
	"time"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/idgen"
	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/server/anomaly"
)

// Registry owns every live track and interaction cluster.
// The anomaly rules read tracks from here, and all mutation of track state goes
// through the Registry's methods.
type Registry struct {
	Log      logs.Log
	settings *Settings
	ids      idgen.Int64
	tracks   map[int64]*Track
	order    []int64 // Live track IDs, ascending (which is also creation order)
	clusters map[PairKey]*Cluster
}

func NewRegistry(log logs.Log, settings *Settings) *Registry {
	return &Registry{
		Log:      log,
		settings: settings,
		tracks:   map[int64]*Track{},
		clusters: map[PairKey]*Cluster{},
	}
}

// Update associates this frame's detections with existing tracks, creates tracks for
// unmatched detections, and evicts tracks and clusters that have gone stale.
// Returns the track that each detection was assigned to.
func (r *Registry) Update(detections []nn.ObjectDetection, now time.Time) []*Track {
	var match []int
	if r.settings.Assignment == AssignHungarian {
		match = r.assignHungarian(detections)
	} else {
		match = r.assignGreedy(detections)
	}

	// Invert track -> detection into detection -> track
	detToTrack := make([]int64, len(detections))
	for i, id := range r.order {
		if j := match[i]; j != -1 {
			r.tracks[id].observe(&detections[j], now)
			detToTrack[j] = id
		}
	}

	assigned := make([]*Track, len(detections))
	for j := range detections {
		if detToTrack[j] != 0 {
			assigned[j] = r.tracks[detToTrack[j]]
			continue
		}
		t := newTrack(r.ids.Next(), &detections[j], now, r.settings)
		r.tracks[t.ID] = t
		r.order = append(r.order, t.ID)
		assigned[j] = t
	}

	r.evict(now)
	return assigned
}

// Build a spatial index over the detection centroids
func buildCentroidIndex(detections []nn.ObjectDetection) *flatbush.Flatbush[int32] {
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(detections))
	for i := range detections {
		c := detections[i].Box.Center()
		fb.Add(int32(c.X), int32(c.Y), int32(c.X), int32(c.Y))
	}
	fb.Finish()
	return fb
}

// assignGreedy walks the live tracks in creation order, and gives each one the nearest
// unclaimed detection of the same class that lies strictly within MaxTrackDistance.
// Ties on distance go to the detection that appears first in the input.
// Returns match[i] = detection index for r.order[i], or -1.
func (r *Registry) assignGreedy(detections []nn.ObjectDetection) []int {
	match := make([]int, len(r.order))
	for i := range match {
		match[i] = -1
	}
	if len(detections) == 0 {
		return match
	}

	fb := buildCentroidIndex(detections)
	claimed := make([]bool, len(detections))
	maxDist := r.settings.MaxTrackDistance
	pad := int32(maxDist) + 1
	nearby := []int{}

	for i, id := range r.order {
		t := r.tracks[id]
		c := t.Centroid
		nearby = fb.SearchFast(int32(c.X)-pad, int32(c.Y)-pad, int32(c.X)+pad, int32(c.Y)+pad, nearby[:0])
		slices.Sort(nearby)
		best := -1
		bestDist := maxDist
		for _, j := range nearby {
			if claimed[j] || detections[j].Class != t.Class {
				continue
			}
			d := c.Distance(detections[j].Box.Center())
			if d < bestDist {
				bestDist = d
				best = j
			}
		}
		if best != -1 {
			claimed[best] = true
			match[i] = best
		}
	}
	return match
}

// assignHungarian solves the same problem as assignGreedy, but minimizes the total distance.
func (r *Registry) assignHungarian(detections []nn.ObjectDetection) []int {
	if len(r.order) == 0 || len(detections) == 0 {
		match := make([]int, len(r.order))
		for i := range match {
			match[i] = -1
		}
		return match
	}
	cost := make([][]float32, len(r.order))
	for i, id := range r.order {
		t := r.tracks[id]
		cost[i] = make([]float32, len(detections))
		for j := range detections {
			d := t.Centroid.Distance(detections[j].Box.Center())
			if detections[j].Class != t.Class || d >= r.settings.MaxTrackDistance {
				cost[i][j] = forbiddenCost
			} else {
				cost[i][j] = d
			}
		}
	}
	return hungarianAssign(cost)
}

func (r *Registry) evict(now time.Time) {
	live := r.order[:0]
	for _, id := range r.order {
		t := r.tracks[id]
		if now.Sub(t.LastSeen) > r.settings.GracePeriod {
			r.Log.Infof("Lost track of object ID %v (%v)", t.ID, t.Class)
			delete(r.tracks, id)
		} else {
			live = append(live, id)
		}
	}
	r.order = live

	for key, c := range r.clusters {
		if now.Sub(c.LastSeen) > r.settings.ClusterExpiry {
			delete(r.clusters, key)
		}
	}
}

// Tracks returns all live tracks in creation order
func (r *Registry) Tracks() []*Track {
	all := make([]*Track, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.tracks[id])
	}
	return all
}

// TracksOfClass returns the live tracks of one class, in creation order
func (r *Registry) TracksOfClass(class string) []*Track {
	var out []*Track
	for _, id := range r.order {
		if t := r.tracks[id]; t.Class == class {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) Track(id int64) *Track {
	return r.tracks[id]
}

func (r *Registry) NumTracks() int {
	return len(r.order)
}

func (r *Registry) NumClusters() int {
	return len(r.clusters)
}

func (r *Registry) Cluster(key PairKey) *Cluster {
	return r.clusters[key]
}

func (r *Registry) markPersonNear(t *Track, now time.Time) {
	t.LastPersonNear = now
}

// markStationary starts the stationary timer if it is not already running
func (r *Registry) markStationary(t *Track, now time.Time) {
	if t.StationarySince.IsZero() {
		t.StationarySince = now
	}
}

// markMoving stops the stationary timer, and re-arms the loitering report
func (r *Registry) markMoving(t *Track) {
	t.StationarySince = time.Time{}
	t.reported.loitering = false
}

// observePair adds a violence score to the cluster of tracks a and b, creating it if necessary
func (r *Registry) observePair(a, b int64, score float64, now time.Time) *Cluster {
	key := makePairKey(a, b)
	c := r.clusters[key]
	if c == nil {
		c = &Cluster{
			Key:    key,
			scores: newWindow[float64](r.settings.FightWindow),
		}
		r.clusters[key] = c
	}
	c.scores.Add(score)
	c.LastSeen = now
	return c
}

// markReported records that an anomaly about this track has been escalated
func (r *Registry) markReported(t *Track, kind anomaly.Type) {
	switch kind {
	case anomaly.UnattendedObject:
		t.reported.unattended = true
	case anomaly.Fall:
		t.reported.fall = true
	case anomaly.Loitering:
		t.reported.loitering = true
	}
}

func (r *Registry) markClusterReported(c *Cluster) {
	c.reported = true
}
