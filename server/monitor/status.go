package monitor

import (
	"time"

	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/server/dedup"
)

type TrackStatus struct {
	ID         int64     `json:"id"`
	Class      string    `json:"class"`
	Centroid   nn.Point  `json:"centroid"`
	Velocity   float32   `json:"velocity"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
	Stationary bool      `json:"stationary"`
}

// Status is a point-in-time view of the monitor, safe to hand to another goroutine
type Status struct {
	Frames        int64              `json:"frames"`
	LastFrame     time.Time          `json:"lastFrame"`
	FrameWidth    int                `json:"frameWidth"`
	FrameHeight   int                `json:"frameHeight"`
	Tracks        []TrackStatus      `json:"tracks"`
	Clusters      int                `json:"clusters"`
	PersonsInZone int                `json:"personsInZone"`
	CrowdReported bool               `json:"crowdReported"`
	Assets        []AssetStatus      `json:"assets"`
	Anomalies     []dedup.TypeStatus `json:"anomalies"`
}

func (m *Monitor) updateStatus(now time.Time) {
	tracks := m.registry.Tracks()
	st := Status{
		Frames:        m.numFrames,
		LastFrame:     now,
		FrameWidth:    m.frameWidth,
		FrameHeight:   m.frameHeight,
		Tracks:        make([]TrackStatus, 0, len(tracks)),
		Clusters:      m.registry.NumClusters(),
		PersonsInZone: m.personsInRegion,
		CrowdReported: m.crowdReported,
		Assets:        m.assetStatus(),
	}
	for _, t := range tracks {
		st.Tracks = append(st.Tracks, TrackStatus{
			ID:         t.ID,
			Class:      t.Class,
			Centroid:   t.Centroid,
			Velocity:   t.Velocity,
			FirstSeen:  t.FirstSeen,
			LastSeen:   t.LastSeen,
			Stationary: !t.StationarySince.IsZero(),
		})
	}
	m.statusLock.Lock()
	m.status = st
	m.statusLock.Unlock()
}

// Status may be called from any goroutine
func (m *Monitor) Status() Status {
	m.statusLock.Lock()
	st := m.status
	m.statusLock.Unlock()
	st.Anomalies = m.dedup.Status()
	return st
}
