// Package notifications delivers escalated anomalies to the outside world,
// and asks the backend about the state of incidents that it already knows about.
package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/requests"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
)

// Reporter posts anomaly payloads to the backend trigger endpoint
type Reporter struct {
	Log         logs.Log
	Client      *http.Client // If nil, http.DefaultClient is used
	url         string
	cameraID    string
	location    config.Location
	httpTimeout time.Duration
}

func NewReporter(log logs.Log, triggerURL, cameraID string, location config.Location, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Reporter{
		Log:         log,
		url:         triggerURL,
		cameraID:    cameraID,
		location:    location,
		httpTimeout: timeout,
	}
}

// Escalate sends the event to the backend. A non-nil error means the backend did not accept it.
func (r *Reporter) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	payload := BuildPayload(ev, sourceVideo, r.cameraID, r.location)
	ctx, cancel := context.WithTimeout(ctx, r.httpTimeout)
	defer cancel()
	if err := requests.PostJSON(ctx, r.Client, r.url, payload); err != nil {
		return fmt.Errorf("Failed to trigger backend analysis for %v: %w", ev.ID, err)
	}
	r.Log.Infof("Reporter: backend accepted '%v' (%v)", payload.AnomalyType, payload.AnomalyID)
	return nil
}

// IncidentClient queries the backend for incidents that it holds
type IncidentClient struct {
	Client *http.Client // If nil, http.DefaultClient is used
	url    string
}

func NewIncidentClient(incidentsURL string) *IncidentClient {
	return &IncidentClient{
		url: incidentsURL,
	}
}

// RecentIncidents fetches the most recent incidents of a type (by display name) for a camera.
// The caller is responsible for imposing a timeout on ctx.
func (c *IncidentClient) RecentIncidents(ctx context.Context, anomalyType, cameraID string, limit int) ([]dedup.IncidentRecord, error) {
	q := url.Values{}
	q.Set("type", anomalyType)
	q.Set("cameraId", cameraID)
	q.Set("limit", strconv.Itoa(limit))
	records, err := requests.RequestJSON[[]dedup.IncidentRecord](ctx, c.Client, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return *records, nil
}
