package monitor

import (
	"slices"
	"time"

	"github.com/drishti-agent/edge/pkg/nn"
)

type AssignmentMode string

const (
	AssignGreedy    AssignmentMode = "greedy"    // Nearest same-class track first, in track creation order
	AssignHungarian AssignmentMode = "hungarian" // Globally optimal under the same gate
)

// Region is a rectangle in normalized (0..1) frame coordinates
type Region struct {
	X1, Y1, X2, Y2 float64
}

// ToPixels converts the region to a pixel rectangle for a frame of the given size
func (r Region) ToPixels(width, height int) nn.Rect {
	return nn.RectFromCorners(
		int(r.X1*float64(width)),
		int(r.Y1*float64(height)),
		int(r.X2*float64(width)),
		int(r.Y2*float64(height)),
	)
}

type AssetSettings struct {
	Name   string // eg "fire_extinguisher_1"
	Class  string // Detector label
	Region Region
}

// Settings are the tunables of the tracker and the anomaly rules.
// Distances are in pixels.
type Settings struct {
	MinConfidence float32

	MaxTrackDistance float32
	GracePeriod      time.Duration // Tracks that have not been seen for longer than this are evicted
	ClusterExpiry    time.Duration // Interaction clusters that have not been seen for longer than this are evicted
	Assignment       AssignmentMode

	UnattendedClasses   []string
	UnattendedThreshold time.Duration
	PersonProximity     float32

	CrowdRegion    Region
	CrowdThreshold int

	FallWindow       int
	FallUprightRatio float32
	FallFallenRatio  float32
	FallMinDrop      float32

	LoiterWindow    int
	LoiterMovement  float32
	LoiterThreshold time.Duration

	FightProximity      float32
	FightWindow         int
	FightScoreThreshold float64

	Assets              []AssetSettings
	AssetMissingTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MinConfidence:       0.8,
		MaxTrackDistance:    75,
		GracePeriod:         2 * time.Second,
		ClusterExpiry:       5 * time.Second,
		Assignment:          AssignGreedy,
		UnattendedClasses:   []string{"backpack", "suitcase", "handbag"},
		UnattendedThreshold: 5 * time.Second,
		PersonProximity:     100,
		CrowdRegion:         Region{0.2, 0.5, 0.8, 0.9},
		CrowdThreshold:      2,
		FallWindow:          5,
		FallUprightRatio:    1.2,
		FallFallenRatio:     1.0,
		FallMinDrop:         0.5,
		LoiterWindow:        10,
		LoiterMovement:      15,
		LoiterThreshold:     60 * time.Second,
		FightProximity:      50,
		FightWindow:         15,
		FightScoreThreshold: 100,
		Assets: []AssetSettings{
			{Name: "fire_extinguisher_1", Class: "fire extinguisher", Region: Region{0.05, 0.1, 0.15, 0.3}},
			{Name: "emergency_exit_sign", Class: "sign", Region: Region{0.85, 0.05, 0.95, 0.15}},
		},
		AssetMissingTimeout: 10 * time.Second,
	}
}

func (s *Settings) isUnattendedClass(class string) bool {
	return slices.Contains(s.UnattendedClasses, class)
}
