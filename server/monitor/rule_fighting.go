package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
	"gonum.org/v1/gonum/stat"
)

// violenceScore grows with the combined speed of two people, and shrinks with the distance between them
func violenceScore(a, b *Track) float64 {
	d := float64(a.Centroid.Distance(b.Centroid))
	return float64(a.Velocity+b.Velocity) * (1 / (d + 1))
}

// Pairs of people within FightProximity of each other accumulate a violence score
// every frame. Once a pair's window is full and the mean score exceeds
// FightScoreThreshold, the pair is reported. Each pair is reported at most once.
func (m *Monitor) checkFighting(now time.Time) []finding {
	persons := m.registry.TracksOfClass("person")
	var out []finding
	for i := 0; i < len(persons); i++ {
		for j := i + 1; j < len(persons); j++ {
			a, b := persons[i], persons[j]
			if a.Centroid.Distance(b.Centroid) >= m.settings.FightProximity {
				continue
			}
			c := m.registry.observePair(a.ID, b.ID, violenceScore(a, b), now)
			if c.reported || !c.scores.Full() {
				continue
			}
			mean := stat.Mean(c.scores.Values(), nil)
			if mean <= m.settings.FightScoreThreshold {
				continue
			}
			cluster := c
			out = append(out, finding{
				event: anomaly.Event{
					ID:         fmt.Sprintf("fighting_cluster_%v_%v", c.Key.A, c.Key.B),
					Type:       anomaly.Fighting,
					Details:    fmt.Sprintf("Potential fighting detected between persons %v and %v. Violence score: %.2f", c.Key.A, c.Key.B, mean),
					RecordClip: true,
					Time:       now,
				},
				onEscalated: func() { m.registry.markClusterReported(cluster) },
			})
		}
	}
	return out
}
