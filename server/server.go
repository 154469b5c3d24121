// Package server wires the edge agent together: video in, anomalies out.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/pkg/videox"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/camera"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
	"github.com/drishti-agent/edge/server/eventdb"
	"github.com/drishti-agent/edge/server/metrics"
	"github.com/drishti-agent/edge/server/monitor"
	"github.com/drishti-agent/edge/server/notifications"
	"github.com/drishti-agent/edge/server/storage"
	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"
)

// Default filename of the incident journal, when running standalone without an explicit path
const DefaultJournalFile = "edge-incidents.sqlite"

// Without an incident store, ACTIVE is only ever cleared by the crowd rule
const RemoteModeNone = "none (each type escalates once until restart, crowd re-arms locally)"

// Deps are the parts of the server that touch hardware or native libraries
type Deps struct {
	Source   videox.FrameSource
	Detector nn.ObjectDetector
	Encoder  videox.ClipEncoder // If nil, clips are not recorded
	Now      func() time.Time   // Defaults to time.Now
}

type Server struct {
	Log     logs.Log
	Config  *config.Config
	Monitor *monitor.Monitor
	Dedup   *dedup.Deduplicator
	Metrics *metrics.Metrics
	Journal *eventdb.Journal // nil if not enabled

	source     videox.FrameSource
	detector   nn.ObjectDetector
	now        func() time.Time
	clips      *camera.ClipRecorder
	blobs      storage.Storage
	gcs        *storage.StorageGCS
	mqtt       *notifications.MQTTPublisher
	remoteMode string
	httpServer *http.Server
	httpRouter *httprouter.Router
}

// NewServer creates all of the server components. If this fails, anything that was
// opened is closed again.
func NewServer(ctx context.Context, log logs.Log, cfg *config.Config, deps Deps) (*Server, error) {
	s := &Server{
		Log:      log,
		Config:   cfg,
		Metrics:  metrics.New(),
		source:   deps.Source,
		detector: deps.Detector,
		now:      deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.init(ctx, deps); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, deps Deps) error {
	cfg := s.Config
	var err error

	// Incident journal
	journalPath := cfg.Journal.Path
	if journalPath == "" && cfg.Standalone {
		journalPath = DefaultJournalFile
	}
	if journalPath != "" {
		if s.Journal, err = eventdb.Open(s.Log, journalPath, cfg.CameraID, cfg.Location); err != nil {
			return err
		}
	}

	// Remote state, and where escalations go
	var store dedup.IncidentStore
	esc := &fanout{
		log:     s.Log,
		metrics: s.Metrics,
		hub:     sentry.CurrentHub(),
	}
	if cfg.Standalone {
		store = s.Journal
		esc.primary = channel{"journal", s.Journal}
		s.remoteMode = "local journal " + journalDisplayPath(journalPath)
	} else {
		if cfg.Backend.URL == "" {
			return errors.New("backend.url must be configured, unless running standalone")
		}
		reporter := notifications.NewReporter(s.Log, cfg.Backend.URL, cfg.CameraID, cfg.Location, cfg.Backend.Timeout)
		esc.primary = channel{"backend", reporter}
		if cfg.Backend.IncidentsURL != "" {
			store = notifications.NewIncidentClient(cfg.Backend.IncidentsURL)
			s.remoteMode = "backend " + cfg.Backend.IncidentsURL
		} else {
			s.remoteMode = RemoteModeNone
		}
		if s.Journal != nil {
			esc.secondary = append(esc.secondary, channel{"journal", s.Journal})
		}
	}
	if cfg.MQTT.Broker != "" {
		if s.mqtt, err = notifications.NewMQTTPublisher(s.Log, cfg.MQTT, cfg.CameraID, cfg.Location); err != nil {
			return err
		}
		esc.secondary = append(esc.secondary, channel{"mqtt", s.mqtt})
	}

	s.Dedup = dedup.NewDeduplicator(s.Log, store, dedupSettings(cfg))
	s.Metrics.RegisterPollErrors(s.Dedup.PollErrors)

	// Clip capture
	var clips monitor.ClipRecorder
	if deps.Encoder != nil && cfg.ClipBufferFrames() > 0 {
		if cfg.Storage.Bucket != "" {
			if s.gcs, err = storage.NewStorageGCS(ctx, s.Log, cfg.Storage.Bucket); err != nil {
				return err
			}
			s.blobs = s.gcs
		} else {
			if s.blobs, err = storage.NewStorageFS(s.Log, cfg.Storage.LocalPath); err != nil {
				return err
			}
		}
		s.clips = camera.NewClipRecorder(s.Log, cfg.ClipBufferFrames(), cfg.Video.ClipFPS, deps.Encoder, s.blobs, cfg.Video.TempPath)
		clips = s.clips
	}

	s.Monitor = monitor.NewMonitor(s.Log, monitor.Options{
		Settings:        monitorSettings(cfg),
		Detector:        s.detector,
		DetectionParams: detectionParams(cfg),
		Dedup:           s.Dedup,
		Escalator:       esc,
		Clips:           clips,
		Metrics:         s.Metrics,
	})

	s.setupHTTPRoutes()
	s.httpServer = &http.Server{
		Handler: s.httpRouter,
	}
	return nil
}

// Run processes frames until the source is exhausted, or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.printBanner()
	interval := time.Duration(float64(time.Second) / s.Config.Video.FPS)
	for {
		if ctx.Err() != nil {
			s.Log.Infof("Stopping video processing")
			return nil
		}
		frame, err := s.source.Next()
		if errors.Is(err, videox.ErrEndOfStream) {
			s.Log.Infof("End of video stream")
			return nil
		} else if err != nil {
			return fmt.Errorf("Failed to read frame: %w", err)
		}
		_, err = s.Monitor.ProcessFrame(ctx, frame, s.now())
		frame.Close()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
}

func (s *Server) printBanner() {
	cfg := s.Config
	enabled := []string{}
	for _, t := range anomaly.AllTypes {
		enabled = append(enabled, t.DisplayName())
	}
	clipStore := "disabled"
	if s.blobs != nil {
		clipStore = s.blobs.URI(camera.ClipPrefix)
	}
	s.Log.Infof("Drishti edge agent, camera %v at %v", cfg.CameraID, cfg.Location.Name)
	s.Log.Infof("  Video source:  %v (%v FPS)", cfg.Video.Source, cfg.Video.FPS)
	if cfg.Standalone {
		s.Log.Infof("  Backend:       standalone")
	} else {
		s.Log.Infof("  Backend:       %v", cfg.Backend.URL)
	}
	s.Log.Infof("  Clips:         %v", clipStore)
	s.Log.Infof("  Remote state:  %v", s.remoteMode)
	if s.mqtt != nil {
		s.Log.Infof("  MQTT:          %v", s.mqtt.Topic())
	}
	s.Log.Infof("  Anomalies:     %v", strings.Join(enabled, ", "))
}

// ListenHTTP serves the status API until Close is called.
// port example: ":8090"
func (s *Server) ListenHTTP(port string) error {
	ln, err := net.Listen("tcp", port)
	if err != nil {
		return err
	}
	s.Log.Infof("Listening on %v", ln.Addr())
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases everything that the server opened. The frame source and detector
// belong to the caller.
func (s *Server) Close() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown: %v", err)
		}
		cancel()
	}
	if s.clips != nil {
		s.clips.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Close()
	}
	if s.gcs != nil {
		s.gcs.Close()
	}
	if s.Journal != nil {
		s.Journal.Close()
	}
}

// Absolute path of the journal, for display
func journalDisplayPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
