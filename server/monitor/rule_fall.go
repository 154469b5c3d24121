package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
)

// A person whose aspect ratio (height / width) went from upright at the start of the
// window to fallen at the end of it. A fallen person stays reported for the lifetime
// of the track.
func (m *Monitor) checkFall(now time.Time) []finding {
	var out []finding
	for _, t := range m.registry.TracksOfClass("person") {
		if t.reported.fall || !t.aspectRatios.Full() {
			continue
		}
		before := t.aspectRatios.Oldest()
		after := t.aspectRatios.Newest()
		if before > m.settings.FallUprightRatio && after < m.settings.FallFallenRatio && before-after > m.settings.FallMinDrop {
			track := t
			out = append(out, finding{
				event: anomaly.Event{
					ID:         fmt.Sprintf("fall_%v", t.ID),
					Type:       anomaly.Fall,
					Details:    fmt.Sprintf("Potential fall detected for person ID %v. Aspect ratio changed from %.2f to %.2f.", t.ID, before, after),
					RecordClip: true,
					Time:       now,
				},
				onEscalated: func() { m.registry.markReported(track, anomaly.Fall) },
			})
		}
	}
	return out
}
