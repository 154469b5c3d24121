package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/pkg/videox"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/metrics"
	"github.com/getsentry/sentry-go"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

type testFrame struct{}

func (testFrame) Width() int          { return 640 }
func (testFrame) Height() int         { return 480 }
func (testFrame) Clone() videox.Frame { return testFrame{} }
func (testFrame) Close() error        { return nil }

type testSource struct {
	remaining int
}

func (s *testSource) Next() (videox.Frame, error) {
	if s.remaining == 0 {
		return nil, videox.ErrEndOfStream
	}
	s.remaining--
	return testFrame{}, nil
}

func (s *testSource) FPS() float64 { return 0 }
func (s *testSource) Close() error { return nil }

// Three people inside the default crowd zone, on every frame
type crowdDetector struct{}

func (crowdDetector) Close()                  {}
func (crowdDetector) Config() *nn.ModelConfig { return &nn.ModelConfig{Architecture: "test"} }
func (crowdDetector) DetectObjects(frame videox.Frame, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	dets := []nn.ObjectDetection{}
	for _, x := range []int{200, 300, 400} {
		dets = append(dets, nn.ObjectDetection{Class: "person", Confidence: 0.95, Box: nn.Rect{X: x - 20, Y: 260, Width: 40, Height: 80}})
	}
	return dets, nil
}

type testEncoder struct{}

func (testEncoder) Encode(filename string, frames []videox.Frame, fps float64) error {
	return os.WriteFile(filename, []byte(fmt.Sprintf("%v frames", len(frames))), 0644)
}

// testClock advances by one second on every reading
func testClock() func() time.Time {
	now := time.Unix(1772388000, 0)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Chdir(t.TempDir())
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Video.FPS = 1000
	cfg.Video.BufferSeconds = 1
	cfg.Rules.Assets.Items = nil
	return cfg
}

func TestStandalone(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	cfg.Standalone = true
	cfg.Journal.Path = filepath.Join(root, "incidents.sqlite")
	cfg.Storage.LocalPath = filepath.Join(root, "clips")
	cfg.Video.TempPath = t.TempDir()

	s, err := NewServer(context.Background(), logs.NewTestingLog(t), cfg, Deps{
		Source:   &testSource{remaining: 5},
		Detector: crowdDetector{},
		Encoder:  testEncoder{},
		Now:      testClock(),
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Run(context.Background()))

	incidents, err := s.Journal.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	require.Equal(t, "High Crowd Density", incidents[0].AnomalyType)
	require.True(t, strings.HasPrefix(incidents[0].SourceVideo, "file://"))
	require.True(t, strings.HasSuffix(incidents[0].SourceVideo, "/anomaly_clips/high_crowd_density_1772388001.mp4"))
	_, err = os.Stat(filepath.Join(cfg.Storage.LocalPath, "anomaly_clips", "high_crowd_density_1772388001.mp4"))
	require.NoError(t, err)
	require.True(t, s.Dedup.IsActive(anomaly.CrowdDensity))

	// Status API
	rec := httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var state stateJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, "EdgeCam-01", state.CameraID)
	require.True(t, state.Standalone)
	require.EqualValues(t, 5, state.Monitor.Frames)
	require.Equal(t, 3, state.Monitor.PersonsInZone)

	rec = httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("GET", "/api/incidents?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "high_crowd_density_1772388001.mp4")

	rec = httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("POST", "/api/incidents/crowd_density/resolve", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"resolved": 1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("POST", "/api/incidents/alien_invasion/resolve", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "edge_frames_processed_total 5")
	require.Contains(t, rec.Body.String(), `edge_escalations_total{result="sent",type="crowd_density"} 1`)
}

func TestBackend(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	cfg := testConfig(t)
	cfg.Backend.URL = "http://backend.test/api/v1/trigger-anomaly"
	cfg.Backend.IncidentsURL = "http://backend.test/api/v1/incidents"
	cfg.MQTT.Broker = ""

	var payloads []map[string]any
	httpmock.RegisterResponder("POST", cfg.Backend.URL,
		func(req *http.Request) (*http.Response, error) {
			p := map[string]any{}
			if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			payloads = append(payloads, p)
			return httpmock.NewStringResponse(200, `{"status":"ok"}`), nil
		})
	httpmock.RegisterResponder("GET", `=~^http://backend\.test/api/v1/incidents`,
		httpmock.NewStringResponder(200, `[]`))

	s, err := NewServer(context.Background(), logs.NewTestingLog(t), cfg, Deps{
		Source:   &testSource{remaining: 4},
		Detector: crowdDetector{},
		Now:      testClock(),
	})
	require.NoError(t, err)
	defer s.Close()
	require.Nil(t, s.Journal)
	require.Equal(t, "backend http://backend.test/api/v1/incidents", s.remoteMode)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, payloads, 1)
	require.Equal(t, "High Crowd Density", payloads[0]["anomalyType"])
	require.Equal(t, "live_stream", payloads[0]["sourceVideo"])
	require.Equal(t, "EdgeCam-01", payloads[0]["cameraId"])
	require.Equal(t, 1, httpmock.GetCallCountInfo()["GET =~^http://backend\\.test/api/v1/incidents"])

	// Without a journal, there is nothing to resolve locally
	rec := httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("POST", "/api/incidents/crowd_density/resolve", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBackendWithoutIncidentStore(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	cfg := testConfig(t)
	cfg.Backend.URL = "http://backend.test/api/v1/trigger-anomaly"
	cfg.MQTT.Broker = ""
	httpmock.RegisterResponder("POST", cfg.Backend.URL, httpmock.NewStringResponder(200, `{"status":"ok"}`))

	s, err := NewServer(context.Background(), logs.NewTestingLog(t), cfg, Deps{
		Source:   &testSource{remaining: 4},
		Detector: crowdDetector{},
		Now:      testClock(),
	})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, RemoteModeNone, s.remoteMode)

	// No incidents endpoint is guessed from the trigger URL
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, 1, httpmock.GetTotalCallCount())
	require.Equal(t, 1, httpmock.GetCallCountInfo()["POST "+cfg.Backend.URL])
	require.Equal(t, int64(0), s.Dedup.PollErrors())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Standalone = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "incidents.sqlite")
	s, err := NewServer(context.Background(), logs.NewTestingLog(t), cfg, Deps{
		Source:   &testSource{remaining: -1},
		Detector: crowdDetector{},
	})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func TestResolveRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.Standalone = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "incidents.sqlite")
	s, err := NewServer(context.Background(), logs.NewTestingLog(t), cfg, Deps{
		Source:   &testSource{},
		Detector: crowdDetector{},
	})
	require.NoError(t, err)
	defer s.Close()

	resolve := func() int {
		rec := httptest.NewRecorder()
		s.httpRouter.ServeHTTP(rec, httptest.NewRequest("POST", "/api/incidents/fall/resolve", nil))
		return rec.Code
	}
	for i := 0; i < resolveRequestLimit; i++ {
		require.Equal(t, http.StatusOK, resolve())
	}
	require.Equal(t, http.StatusTooManyRequests, resolve())

	// Read only endpoints are not limited
	rec := httptest.NewRecorder()
	s.httpRouter.ServeHTTP(rec, httptest.NewRequest("GET", "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type failingEscalator struct{ calls int }

func (f *failingEscalator) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	f.calls++
	return errors.New("unreachable")
}

type okEscalator struct{ calls int }

func (f *okEscalator) Escalate(ctx context.Context, ev anomaly.Event, sourceVideo string) error {
	f.calls++
	return nil
}

// sentryRecorder returns a hub whose events end up in the returned slice instead of the network
func sentryRecorder(t *testing.T) (*sentry.Hub, *[]*sentry.Event) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://key@sentry.invalid/1",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			events = append(events, event)
			return nil
		},
	})
	require.NoError(t, err)
	return sentry.NewHub(client, sentry.NewScope()), &events
}

func TestFanout(t *testing.T) {
	ok := &okEscalator{}
	bad := &failingEscalator{}
	hub, reported := sentryRecorder(t)
	f := &fanout{
		log:       logs.NewTestingLog(t),
		metrics:   metrics.New(),
		primary:   channel{"backend", ok},
		secondary: []channel{{"mqtt", bad}},
		hub:       hub,
	}
	ev := anomaly.Event{ID: "fall_1", Type: anomaly.Fall}
	require.NoError(t, f.Escalate(context.Background(), ev, "live_stream"))
	require.Equal(t, 1, ok.calls)
	require.Equal(t, 1, bad.calls)
	require.Empty(t, *reported)

	// A failing primary fails the escalation, and the secondaries never see it
	f.primary, f.secondary = channel{"backend", bad}, []channel{{"mqtt", ok}}
	require.Error(t, f.Escalate(context.Background(), ev, "live_stream"))
	require.Equal(t, 1, ok.calls)
	require.Len(t, *reported, 1)
	require.Equal(t, "backend", (*reported)[0].Tags["channel"])
	require.Equal(t, "fall", (*reported)[0].Tags["anomalyType"])

	// Without a Sentry client, failures are only counted
	f.hub = sentry.NewHub(nil, sentry.NewScope())
	require.Error(t, f.Escalate(context.Background(), ev, "live_stream"))
	require.Len(t, *reported, 1)
}
