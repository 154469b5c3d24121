package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "EdgeCam-01", cfg.CameraID)
	require.Equal(t, "Main Stage Area", cfg.Location.Name)
	require.Equal(t, 10.0, cfg.Video.FPS)
	require.Equal(t, 100, cfg.ClipBufferFrames())
	require.Equal(t, 0.0, cfg.Video.ClipFPS)
	require.InDelta(t, 0.8, cfg.Detector.MinConfidence, 1e-6)
	require.Equal(t, 75.0, cfg.Tracking.MaxDistance)
	require.Equal(t, 2*time.Second, cfg.Tracking.GracePeriod)
	require.Equal(t, 5*time.Second, cfg.Tracking.ClusterExpiry)
	require.Equal(t, ROI{0.2, 0.5, 0.8, 0.9}, cfg.Rules.Crowd.ROI)
	require.Equal(t, 2, cfg.Rules.Crowd.Threshold)
	require.Equal(t, 60*time.Second, cfg.Rules.Loitering.Threshold)
	require.Equal(t, 15, cfg.Rules.Fighting.Window)
	require.Len(t, cfg.Rules.Assets.Items, 2)
	require.Equal(t, "fire_extinguisher_1", cfg.Rules.Assets.Items[0].Name)
	require.Equal(t, "sign", cfg.Rules.Assets.Items[1].Class)
	require.Equal(t, 30*time.Second, cfg.Dedup.Cooldown)
	require.Equal(t, 60*time.Second, cfg.Dedup.RecheckInterval)
	require.Equal(t, 600*time.Second, cfg.Dedup.RecencyWindow)
	require.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	require.Equal(t, "", cfg.Backend.IncidentsURL)
	require.Equal(t, "", cfg.Sentry.DSN)
	require.Equal(t, "production", cfg.Sentry.Environment)
}

func TestEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VIDEO_SOURCE", "rtsp://cam.local/stream")
	t.Setenv("CAMERA_ID", "Gate-3")
	t.Setenv("GCS_BUCKET_NAME", "clips-bucket")
	t.Setenv("EDGE_VIDEO_FPS", "5")
	t.Setenv("EDGE_DEDUP_COOLDOWN", "45s")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "rtsp://cam.local/stream", cfg.Video.Source)
	require.Equal(t, "Gate-3", cfg.CameraID)
	require.Equal(t, "clips-bucket", cfg.Storage.Bucket)
	require.Equal(t, 5.0, cfg.Video.FPS)
	require.Equal(t, 45*time.Second, cfg.Dedup.Cooldown)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "edge.yaml")
	yaml := `
cameraId: Hall-B
location:
  name: Hall B
  latitude: 1.5
  longitude: 2.5
backend:
  url: http://backend:9000/api/v1/trigger-anomaly
  incidentsUrl: http://backend:9000/custom/incidents
rules:
  crowd:
    threshold: 10
  assets:
    items:
      - name: defib
        class: defibrillator
        roi: {x1: 0.1, y1: 0.1, x2: 0.2, y2: 0.2}
`
	require.NoError(t, os.WriteFile(fn, []byte(yaml), 0644))
	cfg, err := LoadConfig(fn)
	require.NoError(t, err)
	require.Equal(t, "Hall-B", cfg.CameraID)
	require.Equal(t, "Hall B", cfg.Location.Name)
	require.Equal(t, 10, cfg.Rules.Crowd.Threshold)
	require.Len(t, cfg.Rules.Assets.Items, 1)
	require.Equal(t, "defibrillator", cfg.Rules.Assets.Items[0].Class)
	require.Equal(t, "http://backend:9000/custom/incidents", cfg.Backend.IncidentsURL)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	bad := *cfg
	bad.Video.FPS = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Rules.Crowd.ROI = ROI{0.5, 0.5, 0.4, 0.9}
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Tracking.Assignment = "random"
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Video.ClipFPS = -1
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.CameraID = ""
	require.Error(t, bad.Validate())
}
