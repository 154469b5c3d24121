package server

import (
	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
	"github.com/drishti-agent/edge/server/monitor"
)

func toRegion(r config.ROI) monitor.Region {
	return monitor.Region{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2}
}

// monitorSettings translates the config file into tracker and rule settings
func monitorSettings(cfg *config.Config) monitor.Settings {
	s := monitor.DefaultSettings()
	s.MinConfidence = cfg.Detector.MinConfidence

	s.MaxTrackDistance = float32(cfg.Tracking.MaxDistance)
	s.GracePeriod = cfg.Tracking.GracePeriod
	s.ClusterExpiry = cfg.Tracking.ClusterExpiry
	s.Assignment = monitor.AssignmentMode(cfg.Tracking.Assignment)

	r := &cfg.Rules
	s.UnattendedClasses = r.Unattended.Classes
	s.UnattendedThreshold = r.Unattended.Threshold
	s.PersonProximity = float32(r.Unattended.PersonProximity)

	s.CrowdRegion = toRegion(r.Crowd.ROI)
	s.CrowdThreshold = r.Crowd.Threshold

	s.FallWindow = r.Fall.Window
	s.FallUprightRatio = float32(r.Fall.UprightRatio)
	s.FallFallenRatio = float32(r.Fall.FallenRatio)
	s.FallMinDrop = float32(r.Fall.MinDrop)

	s.LoiterWindow = r.Loitering.Window
	s.LoiterMovement = float32(r.Loitering.Movement)
	s.LoiterThreshold = r.Loitering.Threshold

	s.FightProximity = float32(r.Fighting.Proximity)
	s.FightWindow = r.Fighting.Window
	s.FightScoreThreshold = r.Fighting.ScoreThreshold

	s.Assets = nil
	for _, a := range r.Assets.Items {
		s.Assets = append(s.Assets, monitor.AssetSettings{
			Name:   a.Name,
			Class:  a.Class,
			Region: toRegion(a.ROI),
		})
	}
	s.AssetMissingTimeout = r.Assets.MissingThreshold
	return s
}

func dedupSettings(cfg *config.Config) dedup.Settings {
	s := dedup.DefaultSettings(cfg.CameraID)
	s.Cooldown = cfg.Dedup.Cooldown
	s.RecheckInterval = cfg.Dedup.RecheckInterval
	s.RecencyWindow = cfg.Dedup.RecencyWindow
	s.QueryTimeout = cfg.Dedup.QueryTimeout
	return s
}

func detectionParams(cfg *config.Config) *nn.DetectionParams {
	p := nn.NewDetectionParams()
	if cfg.Detector.MinConfidence != 0 {
		p.ProbabilityThreshold = cfg.Detector.MinConfidence
	}
	if cfg.Detector.NmsIouThreshold != 0 {
		p.NmsIouThreshold = cfg.Detector.NmsIouThreshold
	}
	return p
}
