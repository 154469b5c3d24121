package server

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

// InitSentry configures the global Sentry hub. It does nothing if no DSN is configured.
func InitSentry(cfg config.Sentry, cameraID string) error {
	if cfg.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     "edge",
		SampleRate:  1.0,
	})
	if err != nil {
		return fmt.Errorf("Failed to initialize Sentry: %w", err)
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("cameraId", cameraID)
	})
	return nil
}

func FlushSentry() {
	sentry.Flush(sentryFlushTimeout)
}

// reportFailure sends a failed escalation to Sentry. A hub without a client drops it.
func reportFailure(hub *sentry.Hub, channelName string, ev anomaly.Event, err error) {
	if hub == nil || hub.Client() == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "escalation")
		scope.SetTag("channel", channelName)
		scope.SetTag("anomalyType", string(ev.Type))
		scope.SetTag("anomalyId", ev.ID)
		hub.CaptureException(err)
	})
}
