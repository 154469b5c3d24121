package server

import (
	"context"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/metrics"
	"github.com/drishti-agent/edge/server/monitor"
	"github.com/getsentry/sentry-go"
)

type channel struct {
	name      string
	escalator monitor.Escalator
}

// fanout delivers an event to the primary channel, whose answer decides whether the
// escalation succeeded. Secondary channels are best effort.
type fanout struct {
	log       logs.Log
	metrics   *metrics.Metrics
	primary   channel
	secondary []channel
	hub       *sentry.Hub
}

func (f *fanout) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	if err := f.primary.escalator.Escalate(ctx, ev, sourceVideo); err != nil {
		f.metrics.NotificationFails.WithLabelValues(f.primary.name).Inc()
		reportFailure(f.hub, f.primary.name, ev, err)
		return err
	}
	for _, c := range f.secondary {
		if err := c.escalator.Escalate(ctx, ev, sourceVideo); err != nil {
			f.log.Warnf("Failed to deliver %v to %v: %v", ev.ID, c.name, err)
			f.metrics.NotificationFails.WithLabelValues(c.name).Inc()
		}
	}
	return nil
}
