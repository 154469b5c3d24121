package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/google/uuid"
)

// countPersonsInRegion counts people whose centroid is inside the crowd region (edges inclusive)
func (m *Monitor) countPersonsInRegion() int {
	roi := m.settings.CrowdRegion.ToPixels(m.frameWidth, m.frameHeight)
	n := 0
	for _, p := range m.registry.TracksOfClass("person") {
		if roi.Contains(p.Centroid) {
			n++
		}
	}
	return n
}

// More than CrowdThreshold people inside the crowd region.
// This is a zone-wide anomaly, so every escalation gets a fresh ID.
func (m *Monitor) checkCrowd(now time.Time) []finding {
	count := m.countPersonsInRegion()
	m.personsInRegion = count
	if count <= m.settings.CrowdThreshold {
		if m.crowdReported {
			m.Log.Infof("Crowd density has returned to normal levels (%v persons in zone)", count)
			m.crowdReported = false
			m.dedup.Clear(anomaly.CrowdDensity)
		}
		return nil
	}
	return []finding{{
		event: anomaly.Event{
			ID:         fmt.Sprintf("crowd_density_%v", uuid.NewString()),
			Type:       anomaly.CrowdDensity,
			Details:    fmt.Sprintf("Detected %v persons in designated zone (threshold: %v).", count, m.settings.CrowdThreshold),
			RecordClip: true,
			Time:       now,
		},
		onEscalated: func() { m.crowdReported = true },
	}}
}
