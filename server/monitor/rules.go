package monitor

import (
	"github.com/drishti-agent/edge/server/anomaly"
)

// A finding is an anomaly that a rule wants escalated.
// onEscalated is called only if the escalation succeeds, so that a failed
// escalation leaves the rule free to try again on the next frame.
type finding struct {
	event       anomaly.Event
	onEscalated func()
}
