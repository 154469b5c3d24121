// Package anomaly defines the anomaly categories the edge agent can raise, and the events it emits.
package anomaly

import (
	"fmt"
	"strings"
	"time"
)

// Type is the stable machine identifier of an anomaly category
type Type string

const (
	UnattendedObject Type = "unattended_object"
	CrowdDensity     Type = "crowd_density"
	Fall             Type = "fall"
	Loitering        Type = "loitering"
	Fighting         Type = "fighting"
	AssetRemoval     Type = "asset_removal"
)

// AllTypes is every anomaly type, in the order that the rules are evaluated
var AllTypes = []Type{
	UnattendedObject,
	CrowdDensity,
	Fall,
	Loitering,
	Fighting,
	AssetRemoval,
}

var displayNames = map[Type]string{
	UnattendedObject: "Unattended Object",
	CrowdDensity:     "High Crowd Density",
	Fall:             "Fall Detection",
	Loitering:        "Loitering",
	Fighting:         "Fighting/Aggression",
	AssetRemoval:     "Asset Removal",
}

// DisplayName is the human readable name that the backend knows this type by.
// Remote incident records are matched on this name.
func (t Type) DisplayName() string {
	if n, ok := displayNames[t]; ok {
		return n
	}
	return string(t)
}

// Slug is a filename friendly form of the display name, eg "high_crowd_density"
func (t Type) Slug() string {
	r := strings.NewReplacer(" ", "_", "/", "_")
	return strings.ToLower(r.Replace(t.DisplayName()))
}

// ParseType accepts either the machine identifier or the display name (case insensitive)
func ParseType(s string) (Type, error) {
	for _, t := range AllTypes {
		if strings.EqualFold(s, string(t)) || strings.EqualFold(s, t.DisplayName()) || strings.EqualFold(s, t.Slug()) {
			return t, nil
		}
	}
	return "", fmt.Errorf("Unknown anomaly type '%v'", s)
}

// Event is a single anomaly that a rule has decided is worth escalating
type Event struct {
	ID         string    `json:"id"`   // Deterministic per entity (eg "unattended_7"), or a UUID for zone-wide anomalies
	Type       Type      `json:"type"` // Category
	Details    string    `json:"details"`
	RecordClip bool      `json:"recordClip"` // Capture and upload a video clip before escalating
	Time       time.Time `json:"time"`
}
