// Package camera keeps the recent past of the video stream, and turns it into clips
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/drishti-agent/edge/pkg/videox"
	"github.com/drishti-agent/edge/server/anomaly"
	"github.com/drishti-agent/edge/server/storage"
)

var ErrEmptyBuffer = errors.New("Frame buffer is empty")

// Clips are stored under this prefix in the blob store
const ClipPrefix = "anomaly_clips/"

const uploadTimeout = 15 * time.Second

// ClipRecorder holds a rolling window of frames, and on demand, encodes them into
// an mp4 and uploads it to a blob store.
type ClipRecorder struct {
	Log     logs.Log
	encoder videox.ClipEncoder
	store   storage.Storage
	fps     float64
	tempDir string

	lock      sync.Mutex
	frames    *RingBuffer[videox.Frame]
	intervals *RingBuffer[time.Duration]
	lastAdd   time.Time
	now       func() time.Time
}

// NewClipRecorder creates a recorder that holds 'capacity' frames.
// If fps is zero, the clip frame rate is estimated from the rate at which frames arrive.
// If tempDir is empty, the OS temp directory is used.
func NewClipRecorder(log logs.Log, capacity int, fps float64, encoder videox.ClipEncoder, store storage.Storage, tempDir string) *ClipRecorder {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &ClipRecorder{
		Log:       log,
		encoder:   encoder,
		store:     store,
		fps:       fps,
		tempDir:   tempDir,
		frames:    NewRingBuffer[videox.Frame](capacity),
		intervals: NewRingBuffer[time.Duration](30),
		now:       time.Now,
	}
}

// AddFrame stores a copy of the frame. The caller keeps ownership of 'frame'.
func (c *ClipRecorder) AddFrame(frame videox.Frame) {
	clone := frame.Clone()
	now := c.now()
	c.lock.Lock()
	if !c.lastAdd.IsZero() {
		c.intervals.Add(now.Sub(c.lastAdd))
	}
	c.lastAdd = now
	evicted, ok := c.frames.Add(clone)
	c.lock.Unlock()
	if ok && evicted != nil {
		evicted.Close()
	}
}

func (c *ClipRecorder) NumFrames() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.frames.Len()
}

// FPS is the frame rate that clips are encoded at
func (c *ClipRecorder) FPS() float64 {
	if c.fps > 0 {
		return c.fps
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return EstimateFPS(c.intervals.Items(), DefaultClipFPS)
}

// snapshot returns copies of the buffered frames, which the caller must close
func (c *ClipRecorder) snapshot() []videox.Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	items := c.frames.Items()
	out := make([]videox.Frame, len(items))
	for i, f := range items {
		out[i] = f.Clone()
	}
	return out
}

// ClipName returns the blob name of the clip for an anomaly, eg anomaly_clips/fall_detection_1772388021.mp4
func ClipName(t anomaly.Type, now time.Time) string {
	return fmt.Sprintf("%v%v_%v.mp4", ClipPrefix, t.Slug(), now.Unix())
}

// Record encodes the buffered frames, uploads them, and returns the URI of the clip.
// Frames that arrive while we are encoding are not part of the clip.
func (c *ClipRecorder) Record(ctx context.Context, t anomaly.Type, now time.Time) (string, error) {
	frames := c.snapshot()
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()
	if len(frames) == 0 {
		return "", ErrEmptyBuffer
	}

	name := ClipName(t, now)
	localPath := filepath.Join(c.tempDir, filepath.Base(name))
	if err := c.encoder.Encode(localPath, frames, c.FPS()); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("Failed to encode clip: %w", err)
	}
	defer func() {
		if err := os.Remove(localPath); err != nil {
			c.Log.Warnf("Failed to remove temporary clip %v: %v", localPath, err)
		}
	}()
	c.Log.Infof("Anomaly clip of %v frames saved to %v", len(frames), localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	uri, err := storage.WriteFile(ctx, c.store, name, f)
	if err != nil {
		return "", fmt.Errorf("Failed to upload clip: %w", err)
	}
	c.Log.Infof("Successfully uploaded clip to %v", uri)
	return uri, nil
}

// Close releases all buffered frames
func (c *ClipRecorder) Close() {
	c.lock.Lock()
	frames := c.frames.Clear()
	c.lock.Unlock()
	for _, f := range frames {
		f.Close()
	}
}
