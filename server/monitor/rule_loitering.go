package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
)

// A person who has moved less than LoiterMovement across the whole position window,
// for longer than LoiterThreshold. Moving again re-arms the rule.
func (m *Monitor) checkLoitering(now time.Time) []finding {
	var out []finding
	for _, t := range m.registry.TracksOfClass("person") {
		if !t.positions.Full() {
			continue
		}
		displacement := t.positions.Oldest().Distance(t.positions.Newest())
		if displacement >= m.settings.LoiterMovement {
			if t.reported.loitering {
				m.Log.Infof("Person ID %v is moving again, loitering cleared", t.ID)
			}
			m.registry.markMoving(t)
			continue
		}
		m.registry.markStationary(t, now)
		stationary := now.Sub(t.StationarySince)
		if stationary <= m.settings.LoiterThreshold || t.reported.loitering {
			continue
		}
		track := t
		out = append(out, finding{
			event: anomaly.Event{
				ID:         fmt.Sprintf("loitering_%v", t.ID),
				Type:       anomaly.Loitering,
				Details:    fmt.Sprintf("Person ID %v has been stationary for %.1f seconds.", t.ID, stationary.Seconds()),
				RecordClip: false,
				Time:       now,
			},
			onEscalated: func() { m.registry.markReported(track, anomaly.Loitering) },
		})
	}
	return out
}
