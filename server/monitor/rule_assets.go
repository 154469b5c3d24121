package monitor

import (
	"fmt"
	"time"

	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/server/anomaly"
)

type assetPresence int

const (
	assetUnknown assetPresence = iota // No frame processed yet
	assetPresent
	assetAbsent
)

func (p assetPresence) String() string {
	switch p {
	case assetPresent:
		return "present"
	case assetAbsent:
		return "absent"
	}
	return "unknown"
}

type assetState struct {
	AssetSettings
	presence     assetPresence
	missingSince time.Time // Zero unless the asset has gone missing after being seen
	notified     bool
}

// AssetStatus is a snapshot of one critical asset
type AssetStatus struct {
	Name         string    `json:"name"`
	Presence     string    `json:"presence"`
	MissingSince time.Time `json:"missingSince,omitempty"`
	Notified     bool      `json:"notified"`
}

func newAssetStates(settings []AssetSettings) []*assetState {
	states := make([]*assetState, 0, len(settings))
	for _, s := range settings {
		states = append(states, &assetState{AssetSettings: s})
	}
	return states
}

// detectedIn returns true if a detection of the asset's class has its centroid inside the asset's region
func (a *assetState) detectedIn(roi nn.Rect, detections []nn.ObjectDetection) bool {
	for i := range detections {
		if detections[i].Class == a.Class && roi.Contains(detections[i].Box.Center()) {
			return true
		}
	}
	return false
}

// Critical assets are checked against the raw detections of this frame, not against tracks.
// The first frame establishes a baseline. An asset that was present and then disappears
// for longer than AssetMissingTimeout is reported once. Its return re-arms the rule.
// An asset that was absent from the start is never reported.
func (m *Monitor) checkAssets(detections []nn.ObjectDetection, now time.Time) []finding {
	var out []finding
	for _, a := range m.assets {
		roi := a.Region.ToPixels(m.frameWidth, m.frameHeight)
		detected := a.detectedIn(roi, detections)

		switch {
		case a.presence == assetUnknown:
			if detected {
				a.presence = assetPresent
				m.Log.Infof("Asset %v confirmed present at startup", a.Name)
			} else {
				a.presence = assetAbsent
				m.Log.Warnf("Asset %v not visible at startup", a.Name)
			}
		case detected:
			if !a.missingSince.IsZero() {
				m.Log.Infof("Asset %v has returned to its location", a.Name)
			}
			a.presence = assetPresent
			a.missingSince = time.Time{}
			a.notified = false
		case a.presence == assetPresent:
			a.presence = assetAbsent
			a.missingSince = now
		case !a.missingSince.IsZero() && !a.notified && now.Sub(a.missingSince) > m.settings.AssetMissingTimeout:
			asset := a
			out = append(out, finding{
				event: anomaly.Event{
					ID:         fmt.Sprintf("asset_removed_%v", a.Name),
					Type:       anomaly.AssetRemoval,
					Details:    fmt.Sprintf("Critical asset '%v' (%v) is missing from its designated location.", a.Name, a.Class),
					RecordClip: true,
					Time:       now,
				},
				onEscalated: func() { asset.notified = true },
			})
		}
	}
	return out
}

func (m *Monitor) assetStatus() []AssetStatus {
	out := make([]AssetStatus, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, AssetStatus{
			Name:         a.Name,
			Presence:     a.presence.String(),
			MissingSince: a.missingSince,
			Notified:     a.notified,
		})
	}
	return out
}
