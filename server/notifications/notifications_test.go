package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/config"
	"github.com/drishti-agent/edge/server/dedup"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLocation = config.Location{Name: "Gate 3", Latitude: 12.9716, Longitude: 77.5946}

func testEvent() anomaly.Event {
	return anomaly.Event{
		ID:      "fall_12",
		Type:    anomaly.Fall,
		Details: "Person (ID: 12) may have fallen",
		Time:    time.Unix(1772388021, 500_000_000),
	}
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(testEvent(), "gs://clips/anomaly_clips/fall_detection_1772388021.mp4", "EdgeCam-01", testLocation)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"anomalyId": "fall_12",
		"anomalyType": "Fall Detection",
		"details": "Person (ID: 12) may have fallen",
		"timestamp": 1772388021.5,
		"sourceVideo": "gs://clips/anomaly_clips/fall_detection_1772388021.mp4",
		"cameraId": "EdgeCam-01",
		"location": {"name": "Gate 3", "latitude": 12.9716, "longitude": 77.5946}
	}`, string(raw))
}

func TestReporter(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	var received Payload
	httpmock.RegisterResponder("POST", "http://backend.test/api/trigger",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			return httpmock.NewStringResponse(200, `{"status":"queued"}`), nil
		})
	httpmock.RegisterResponder("POST", "http://down.test/api/trigger",
		httpmock.NewStringResponder(503, "unavailable"))

	r := NewReporter(logs.NewTestingLog(t), "http://backend.test/api/trigger", "EdgeCam-01", testLocation, 0)
	require.NoError(t, r.Escalate(context.Background(), testEvent(), "live_stream"))
	require.Equal(t, "fall_12", received.AnomalyID)
	require.Equal(t, "live_stream", received.SourceVideo)
	require.Equal(t, testLocation, received.Location)

	bad := NewReporter(logs.NewTestingLog(t), "http://down.test/api/trigger", "EdgeCam-01", testLocation, time.Second)
	err := bad.Escalate(context.Background(), testEvent(), "live_stream")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unavailable")
}

func TestIncidentClient(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponderWithQuery("GET", "http://backend.test/api/incidents",
		map[string]string{"type": "High Crowd Density", "cameraId": "EdgeCam-01", "limit": "10"},
		httpmock.NewStringResponder(200, `[
			{"id": "i1", "type": "High Crowd Density", "cameraId": "EdgeCam-01", "status": "active", "timestamp": 1772388000.25},
			{"id": "i2", "type": "High Crowd Density", "cameraId": "EdgeCam-01", "status": "resolved", "timestamp": 1772387000}
		]`))
	httpmock.RegisterNoResponder(httpmock.NewStringResponder(500, "no such route"))

	c := NewIncidentClient("http://backend.test/api/incidents")
	recs, err := c.RecentIncidents(context.Background(), "High Crowd Density", "EdgeCam-01", 10)
	require.NoError(t, err)
	require.Equal(t, []dedup.IncidentRecord{
		{ID: "i1", Type: "High Crowd Density", CameraID: "EdgeCam-01", Status: "active", Timestamp: 1772388000.25},
		{ID: "i2", Type: "High Crowd Density", CameraID: "EdgeCam-01", Status: "resolved", Timestamp: 1772387000},
	}, recs)

	_, err = c.RecentIncidents(context.Background(), "Fall Detection", "EdgeCam-01", 10)
	require.Error(t, err)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	connected  bool
	publishErr error
	messages   []published
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.messages = append(f.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(f.publishErr)
}

func (f *fakeMQTT) IsConnected() bool       { return f.connected }
func (f *fakeMQTT) Disconnect(quiesce uint) { f.connected = false }

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTT{connected: true}
	m := newMQTTPublisher(logs.NewTestingLog(t), client, "drishti/anomalies", "EdgeCam-01", testLocation)
	require.Equal(t, "drishti/anomalies/EdgeCam-01", m.Topic())

	require.NoError(t, m.Escalate(context.Background(), testEvent(), "live_stream"))
	require.Len(t, client.messages, 1)
	require.Equal(t, "drishti/anomalies/EdgeCam-01", client.messages[0].topic)
	require.EqualValues(t, 0, client.messages[0].qos)
	var p Payload
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &p))
	require.Equal(t, "Fall Detection", p.AnomalyType)

	client.publishErr = errors.New("broker rejected")
	require.ErrorContains(t, m.Escalate(context.Background(), testEvent(), "live_stream"), "broker rejected")

	m.Close()
	require.ErrorIs(t, m.Escalate(context.Background(), testEvent(), "live_stream"), ErrNotConnected)
}
