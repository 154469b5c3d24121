package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Location is attached to every escalation payload
type Location struct {
	Name      string  `mapstructure:"name" json:"name"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude"`
	Longitude float64 `mapstructure:"longitude" json:"longitude"`
}

// ROI is a rectangle in normalized (0..1) frame coordinates
type ROI struct {
	X1 float64 `mapstructure:"x1"`
	Y1 float64 `mapstructure:"y1"`
	X2 float64 `mapstructure:"x2"`
	Y2 float64 `mapstructure:"y2"`
}

// Asset is a piece of equipment that must stay inside its region
type Asset struct {
	Name  string `mapstructure:"name"`  // eg fire_extinguisher_1
	Class string `mapstructure:"class"` // Detector label, eg "fire extinguisher"
	ROI   ROI    `mapstructure:"roi"`
}

type Video struct {
	Source        string  `mapstructure:"source"`        // Device index, file, or stream URL
	FPS           float64 `mapstructure:"fps"`           // Processing rate
	ClipFPS       float64 `mapstructure:"clipfps"`       // Frame rate of clips. Zero means measure the stream.
	BufferSeconds int     `mapstructure:"bufferseconds"` // Length of the rolling clip buffer
	TempPath      string  `mapstructure:"temppath"`      // Where clips are encoded before upload
}

type Detector struct {
	Config          string  `mapstructure:"config"`  // Darknet .cfg
	Weights         string  `mapstructure:"weights"` // Darknet .weights
	Classes         string  `mapstructure:"classes"` // Class names file. Empty means COCO.
	InputSize       int     `mapstructure:"inputsize"`
	MinConfidence   float32 `mapstructure:"minconfidence"`
	NmsIouThreshold float32 `mapstructure:"nmsiouthreshold"`
}

type Tracking struct {
	MaxDistance   float64       `mapstructure:"maxdistance"`   // Pixels
	GracePeriod   time.Duration `mapstructure:"graceperiod"`   // Unseen tracks are evicted after this
	ClusterExpiry time.Duration `mapstructure:"clusterexpiry"` // Unseen interaction clusters are evicted after this
	Assignment    string        `mapstructure:"assignment"`    // "greedy" or "hungarian"
}

type Unattended struct {
	Classes         []string      `mapstructure:"classes"`
	Threshold       time.Duration `mapstructure:"threshold"`
	PersonProximity float64       `mapstructure:"personproximity"`
}

type Crowd struct {
	ROI       ROI `mapstructure:"roi"`
	Threshold int `mapstructure:"threshold"` // Strictly more people than this is a crowd
}

type Fall struct {
	Window       int     `mapstructure:"window"`
	UprightRatio float64 `mapstructure:"uprightratio"`
	FallenRatio  float64 `mapstructure:"fallenratio"`
	MinDrop      float64 `mapstructure:"mindrop"`
}

type Loitering struct {
	Window    int           `mapstructure:"window"`
	Movement  float64       `mapstructure:"movement"` // Pixels of displacement across the window
	Threshold time.Duration `mapstructure:"threshold"`
}

type Fighting struct {
	Proximity      float64 `mapstructure:"proximity"`
	Window         int     `mapstructure:"window"`
	ScoreThreshold float64 `mapstructure:"scorethreshold"`
}

type Assets struct {
	Items            []Asset       `mapstructure:"items"`
	MissingThreshold time.Duration `mapstructure:"missingthreshold"`
}

type Rules struct {
	Unattended Unattended `mapstructure:"unattended"`
	Crowd      Crowd      `mapstructure:"crowd"`
	Fall       Fall       `mapstructure:"fall"`
	Loitering  Loitering  `mapstructure:"loitering"`
	Fighting   Fighting   `mapstructure:"fighting"`
	Assets     Assets     `mapstructure:"assets"`
}

type Dedup struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	RecheckInterval time.Duration `mapstructure:"recheckinterval"`
	RecencyWindow   time.Duration `mapstructure:"recencywindow"`
	QueryTimeout    time.Duration `mapstructure:"querytimeout"`
}

type Backend struct {
	URL          string        `mapstructure:"url"`          // Anomaly trigger endpoint
	IncidentsURL string        `mapstructure:"incidentsurl"` // Remote incident query. Empty means no remote state.
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Storage struct {
	Bucket    string `mapstructure:"bucket"`    // GCS bucket for clips
	LocalPath string `mapstructure:"localpath"` // Filesystem clip store, used when Bucket is empty
}

type Journal struct {
	Path string `mapstructure:"path"` // sqlite file. Empty disables the journal.
}

type MQTT struct {
	Broker   string `mapstructure:"broker"` // eg tcp://localhost:1883. Empty disables MQTT.
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"clientid"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type HTTP struct {
	Listen string `mapstructure:"listen"` // eg :8090. Empty disables the status API.
}

// Sentry receives escalation failures. An empty DSN disables it.
type Sentry struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type Config struct {
	CameraID   string   `mapstructure:"cameraid"`
	Location   Location `mapstructure:"location"`
	Standalone bool     `mapstructure:"standalone"` // Use the local journal as the remote incident store
	Video      Video    `mapstructure:"video"`
	Detector   Detector `mapstructure:"detector"`
	Tracking   Tracking `mapstructure:"tracking"`
	Rules      Rules    `mapstructure:"rules"`
	Dedup      Dedup    `mapstructure:"dedup"`
	Backend    Backend  `mapstructure:"backend"`
	Storage    Storage  `mapstructure:"storage"`
	Journal    Journal  `mapstructure:"journal"`
	MQTT       MQTT     `mapstructure:"mqtt"`
	HTTP       HTTP     `mapstructure:"http"`
	Sentry     Sentry   `mapstructure:"sentry"`
}

// Environment variables that predate the EDGE_ prefix
var legacyEnv = map[string]string{
	"video.source":   "VIDEO_SOURCE",
	"backend.url":    "BACKEND_API_URL",
	"storage.bucket": "GCS_BUCKET_NAME",
	"cameraid":       "CAMERA_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cameraid", "EdgeCam-01")
	v.SetDefault("standalone", false)
	v.SetDefault("location.name", "Main Stage Area")
	v.SetDefault("location.latitude", 13.0603)
	v.SetDefault("location.longitude", 77.4744)

	v.SetDefault("video.source", "0")
	v.SetDefault("video.fps", 10.0)
	v.SetDefault("video.clipfps", 0.0)
	v.SetDefault("video.bufferseconds", 10)
	v.SetDefault("video.temppath", "")

	v.SetDefault("detector.config", "models/yolov3-tiny.cfg")
	v.SetDefault("detector.weights", "models/yolov3-tiny.weights")
	v.SetDefault("detector.classes", "")
	v.SetDefault("detector.inputsize", 416)
	v.SetDefault("detector.minconfidence", 0.80)
	v.SetDefault("detector.nmsiouthreshold", 0.45)

	v.SetDefault("tracking.maxdistance", 75.0)
	v.SetDefault("tracking.graceperiod", 2*time.Second)
	v.SetDefault("tracking.clusterexpiry", 5*time.Second)
	v.SetDefault("tracking.assignment", "greedy")

	v.SetDefault("rules.unattended.classes", []string{"backpack", "suitcase", "handbag"})
	v.SetDefault("rules.unattended.threshold", 5*time.Second)
	v.SetDefault("rules.unattended.personproximity", 100.0)
	v.SetDefault("rules.crowd.roi", map[string]any{"x1": 0.2, "y1": 0.5, "x2": 0.8, "y2": 0.9})
	v.SetDefault("rules.crowd.threshold", 2)
	v.SetDefault("rules.fall.window", 5)
	v.SetDefault("rules.fall.uprightratio", 1.2)
	v.SetDefault("rules.fall.fallenratio", 1.0)
	v.SetDefault("rules.fall.mindrop", 0.5)
	v.SetDefault("rules.loitering.window", 10)
	v.SetDefault("rules.loitering.movement", 15.0)
	v.SetDefault("rules.loitering.threshold", 60*time.Second)
	v.SetDefault("rules.fighting.proximity", 50.0)
	v.SetDefault("rules.fighting.window", 15)
	v.SetDefault("rules.fighting.scorethreshold", 100.0)
	v.SetDefault("rules.assets.items", []map[string]any{
		{"name": "fire_extinguisher_1", "class": "fire extinguisher", "roi": map[string]any{"x1": 0.05, "y1": 0.1, "x2": 0.15, "y2": 0.3}},
		{"name": "emergency_exit_sign", "class": "sign", "roi": map[string]any{"x1": 0.85, "y1": 0.05, "x2": 0.95, "y2": 0.15}},
	})
	v.SetDefault("rules.assets.missingthreshold", 10*time.Second)

	v.SetDefault("dedup.cooldown", 30*time.Second)
	v.SetDefault("dedup.recheckinterval", 60*time.Second)
	v.SetDefault("dedup.recencywindow", 600*time.Second)
	v.SetDefault("dedup.querytimeout", 10*time.Second)

	v.SetDefault("backend.url", "http://127.0.0.1:8000/api/v1/trigger-anomaly")
	v.SetDefault("backend.incidentsurl", "")
	v.SetDefault("backend.timeout", 15*time.Second)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.localpath", "anomaly_clips")
	v.SetDefault("journal.path", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic", "edge/anomalies")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	v.SetDefault("http.listen", "")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// LoadConfig reads the optional YAML file at 'filename', then applies environment overrides.
// If filename is empty, we look for edge.yaml in the working directory, and carry on with
// defaults if it is not there.
func LoadConfig(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "EDGE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("Failed to bind %v: %w", env, err)
		}
	}

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
	} else {
		v.SetConfigName("edge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("Error loading edge.yaml: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r ROI) validate(what string) error {
	for _, v := range []float64{r.X1, r.Y1, r.X2, r.Y2} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%v ROI must be normalized to 0..1", what)
		}
	}
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return fmt.Errorf("%v ROI is empty", what)
	}
	return nil
}

// Validate rejects values that would make the monitor misbehave
func (c *Config) Validate() error {
	if c.CameraID == "" {
		return fmt.Errorf("cameraId may not be empty")
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("video.fps must be positive (got %v)", c.Video.FPS)
	}
	if c.Video.ClipFPS < 0 {
		return fmt.Errorf("video.clipFps may not be negative")
	}
	if c.Video.BufferSeconds < 0 {
		return fmt.Errorf("video.bufferSeconds may not be negative")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.minConfidence must be between 0 and 1")
	}
	if err := c.Rules.Crowd.ROI.validate("Crowd"); err != nil {
		return err
	}
	for _, a := range c.Rules.Assets.Items {
		if a.Name == "" || a.Class == "" {
			return fmt.Errorf("Assets need a name and a class")
		}
		if err := a.ROI.validate("Asset " + a.Name); err != nil {
			return err
		}
	}
	for _, w := range []int{c.Rules.Fall.Window, c.Rules.Loitering.Window, c.Rules.Fighting.Window} {
		if w < 2 {
			return fmt.Errorf("Rule windows must hold at least 2 samples")
		}
	}
	switch c.Tracking.Assignment {
	case "greedy", "hungarian":
	default:
		return fmt.Errorf("tracking.assignment must be 'greedy' or 'hungarian' (got '%v')", c.Tracking.Assignment)
	}
	return nil
}

// ClipBufferFrames is the number of frames held for clip capture
func (c *Config) ClipBufferFrames() int {
	return int(c.Video.FPS * float64(c.Video.BufferSeconds))
}
