package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/pkg/videox"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/dedup"
	"github.com/drishti-agent/edge/server/metrics"
)

// SourceVideoLive is reported as the source video of escalations that have no clip
const SourceVideoLive = "live_stream"

var ErrNoDetector = errors.New("Monitor has no object detector")

const detectorErrorLogInterval = 15 * time.Second

// Escalator delivers an anomaly to the outside world.
// A nil error means the escalation was accepted.
type Escalator interface {
	Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error
}

// ClipRecorder keeps the recent past of the video stream, and saves it on demand
type ClipRecorder interface {
	AddFrame(frame videox.Frame)
	// Record saves the buffered frames, and returns a reference to the stored clip
	Record(ctx context.Context, t anomaly.Type, now time.Time) (string, error)
}

type Options struct {
	Settings        Settings
	Detector        nn.ObjectDetector // Only needed by ProcessFrame
	DetectionParams *nn.DetectionParams
	Dedup           *dedup.Deduplicator
	Escalator       Escalator
	Clips           ClipRecorder     // Optional
	Metrics         *metrics.Metrics // Optional
}

// Monitor runs the per-frame pipeline: detect, track, evaluate rules, escalate.
// All methods except Status must be called from a single goroutine.
type Monitor struct {
	Log             logs.Log
	settings        Settings
	detector        nn.ObjectDetector
	detectionParams *nn.DetectionParams
	registry        *Registry
	dedup           *dedup.Deduplicator
	escalator       Escalator
	clips           ClipRecorder
	metrics         *metrics.Metrics

	frameWidth      int
	frameHeight     int
	assets          []*assetState
	crowdReported   bool
	personsInRegion int
	numFrames       int64

	lastDetectorErrorLog time.Time

	statusLock sync.Mutex
	status     Status
}

func NewMonitor(log logs.Log, opt Options) *Monitor {
	m := &Monitor{
		Log:             log,
		settings:        opt.Settings,
		detector:        opt.Detector,
		detectionParams: opt.DetectionParams,
		dedup:           opt.Dedup,
		escalator:       opt.Escalator,
		clips:           opt.Clips,
		metrics:         opt.Metrics,
	}
	if m.detectionParams == nil {
		m.detectionParams = nn.NewDetectionParams()
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	m.registry = NewRegistry(log, &m.settings)
	m.assets = newAssetStates(m.settings.Assets)
	return m
}

// ProcessFrame runs the object detector on the frame, and then the rest of the pipeline.
// If the detector fails, the frame is processed as though nothing was detected.
// The caller retains ownership of the frame.
func (m *Monitor) ProcessFrame(ctx context.Context, frame videox.Frame, now time.Time) ([]anomaly.Event, error) {
	if m.detector == nil {
		return nil, ErrNoDetector
	}
	start := time.Now()
	if m.clips != nil {
		m.clips.AddFrame(frame)
	}
	detections, err := m.detector.DetectObjects(frame, m.detectionParams)
	if err != nil {
		m.metrics.DetectorErrors.Inc()
		if time.Since(m.lastDetectorErrorLog) > detectorErrorLogInterval {
			m.Log.Errorf("Monitor: Object detection failed: %v", err)
			m.lastDetectorErrorLog = time.Now()
		}
		detections = nil
	}
	events := m.ProcessDetections(ctx, frame.Width(), frame.Height(), detections, now)
	m.metrics.FrameDuration.Observe(time.Since(start).Seconds())
	return events, nil
}

// ProcessDetections runs tracking, the anomaly rules, and escalation on the detections of one frame.
// Returns the events that were successfully escalated.
func (m *Monitor) ProcessDetections(ctx context.Context, width, height int, detections []nn.ObjectDetection, now time.Time) []anomaly.Event {
	if m.frameWidth == 0 {
		m.frameWidth = width
		m.frameHeight = height
		m.Log.Infof("Monitor: Frame size %v x %v, crowd zone %+v", width, height, m.settings.CrowdRegion.ToPixels(width, height))
	}
	m.numFrames++
	m.metrics.FramesProcessed.Inc()

	detections = filterDetections(detections, m.settings.MinConfidence)
	m.metrics.Detections.Add(float64(len(detections)))

	m.dedup.Reconcile(ctx, now)
	m.registry.Update(detections, now)
	m.metrics.LiveTracks.Set(float64(m.registry.NumTracks()))

	var escalated []anomaly.Event
	escalateAll := func(findings []finding) {
		for _, f := range findings {
			if m.escalate(ctx, f, now) {
				escalated = append(escalated, f.event)
			}
		}
	}
	escalateAll(m.checkUnattended(now))
	escalateAll(m.checkCrowd(now))
	escalateAll(m.checkFall(now))
	escalateAll(m.checkLoitering(now))
	escalateAll(m.checkFighting(now))
	escalateAll(m.checkAssets(detections, now))

	m.updateStatus(now)
	return escalated
}

// escalate returns true if the event was delivered.
// Failure anywhere leaves all state untouched, so the rule will fire again on a later frame.
func (m *Monitor) escalate(ctx context.Context, f finding, now time.Time) bool {
	ev := f.event
	typeLabel := string(ev.Type)

	allowed, reason := m.dedup.Allow(ctx, ev.Type, now)
	if !allowed {
		m.Log.Debugf("Monitor: Suppressing %v (%v): %v", ev.ID, ev.Type.DisplayName(), reason)
		m.metrics.Suppressions.WithLabelValues(typeLabel, reason).Inc()
		return false
	}

	m.Log.Infof("NEW ANOMALY %v (%v): %v", ev.Type.DisplayName(), ev.ID, ev.Details)

	sourceVideo := SourceVideoLive
	if ev.RecordClip && m.clips != nil {
		ref, err := m.clips.Record(ctx, ev.Type, now)
		if err != nil {
			m.Log.Errorf("Monitor: Failed to capture clip for %v, not escalating: %v", ev.ID, err)
			m.metrics.ClipFailures.Inc()
			m.metrics.Escalations.WithLabelValues(typeLabel, metrics.ResultFailed).Inc()
			return false
		}
		sourceVideo = ref
	}

	if err := m.escalator.Escalate(ctx, ev, sourceVideo); err != nil {
		m.Log.Errorf("Monitor: Failed to escalate %v: %v", ev.ID, err)
		m.metrics.Escalations.WithLabelValues(typeLabel, metrics.ResultFailed).Inc()
		return false
	}

	m.dedup.MarkEscalated(ev.Type, now)
	if f.onEscalated != nil {
		f.onEscalated()
	}
	m.metrics.Escalations.WithLabelValues(typeLabel, metrics.ResultSent).Inc()
	return true
}

// Registry exposes the tracker for inspection
func (m *Monitor) Registry() *Registry {
	return m.registry
}
