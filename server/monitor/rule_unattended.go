package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
)

// An object of an unattended class with no person within PersonProximity for longer
// than UnattendedThreshold. An object that has never had a person near it counts as
// unattended from the moment it appears. Once reported, the track is never reported again, even
// if a person comes back to it.
func (m *Monitor) checkUnattended(now time.Time) []finding {
	persons := m.registry.TracksOfClass("person")
	var out []finding
	for _, t := range m.registry.Tracks() {
		if !m.settings.isUnattendedClass(t.Class) {
			continue
		}
		for _, p := range persons {
			if t.Centroid.Distance(p.Centroid) < m.settings.PersonProximity {
				m.registry.markPersonNear(t, now)
				break
			}
		}
		alone := now.Sub(t.LastPersonNear)
		if alone <= m.settings.UnattendedThreshold || t.reported.unattended {
			continue
		}
		since := t.LastPersonNear
		if since.IsZero() {
			since = t.FirstSeen
		}
		track := t
		out = append(out, finding{
			event: anomaly.Event{
				ID:         fmt.Sprintf("unattended_%v", t.ID),
				Type:       anomaly.UnattendedObject,
				Details:    fmt.Sprintf("Unattended %v detected. No person nearby for %.1f seconds.", t.Class, now.Sub(since).Seconds()),
				RecordClip: false,
				Time:       now,
			},
			onEscalated: func() { m.registry.markReported(track, anomaly.UnattendedObject) },
		})
	}
	return out
}
