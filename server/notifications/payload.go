package notifications

import (
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
)

// Payload is the JSON body that the backend receives for every escalated anomaly.
// SYNC-EDGE-ANOMALY-JSON
type Payload struct {
	AnomalyID   string          `json:"anomalyId"`
	AnomalyType string          `json:"anomalyType"` // Display name, eg "High Crowd Density"
	Details     string          `json:"details"`
	Timestamp   float64         `json:"timestamp"`   // Unix seconds
	SourceVideo string          `json:"sourceVideo"` // Clip URI, or "live_stream"
	CameraID    string          `json:"cameraId"`
	Location    config.Location `json:"location"`
}

func BuildPayload(ev anomaly.Event, sourceVideo, cameraID string, location config.Location) *Payload {
	return &Payload{
		AnomalyID:   ev.ID,
		AnomalyType: ev.Type.DisplayName(),
		Details:     ev.Details,
		Timestamp:   float64(ev.Time.Unix()) + float64(ev.Time.Nanosecond())/1e9,
		SourceVideo: sourceVideo,
		CameraID:    cameraID,
		Location:    location,
	}
}
