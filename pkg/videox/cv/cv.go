// Package cv implements the videox interfaces on top of OpenCV (gocv)
package cv

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/drishti-agent/edge/pkg/videox"
	"gocv.io/x/gocv"
)

var ErrNotMatFrame = errors.New("Frame is not an OpenCV frame")

// MatFrame is a BGR image owned by OpenCV
type MatFrame struct {
	Mat gocv.Mat
}

func NewMatFrame(m gocv.Mat) *MatFrame {
	return &MatFrame{Mat: m}
}

func (f *MatFrame) Width() int  { return f.Mat.Cols() }
func (f *MatFrame) Height() int { return f.Mat.Rows() }

func (f *MatFrame) Clone() videox.Frame {
	return &MatFrame{Mat: f.Mat.Clone()}
}

func (f *MatFrame) Close() error {
	return f.Mat.Close()
}

// Capture reads frames from a webcam, video file, or stream URL
type Capture struct {
	source string
	vc     *gocv.VideoCapture
}

// OpenCapture opens a video source.
// An integer source ("0", "1", ...) is a webcam index. Anything else is a file path or URL.
func OpenCapture(source string) (*Capture, error) {
	var device any = source
	if idx, err := strconv.Atoi(source); err == nil {
		device = idx
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("Failed to open video source '%v': %w", source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("Failed to open video source '%v'", source)
	}
	return &Capture{
		source: source,
		vc:     vc,
	}, nil
}

// Next returns the next frame, or videox.ErrEndOfStream when the source is exhausted
// or can no longer be read.
func (c *Capture) Next() (videox.Frame, error) {
	img := gocv.NewMat()
	if !c.vc.Read(&img) || img.Empty() {
		img.Close()
		return nil, videox.ErrEndOfStream
	}
	return NewMatFrame(img), nil
}

func (c *Capture) FPS() float64 {
	return c.vc.Get(gocv.VideoCaptureFPS)
}

func (c *Capture) Close() error {
	return c.vc.Close()
}

// Encoder writes mp4 clips
type Encoder struct {
	FourCC string // Defaults to "mp4v"
}

func (e *Encoder) Encode(filename string, frames []videox.Frame, fps float64) error {
	if len(frames) == 0 {
		return errors.New("No frames to encode")
	}
	fourcc := e.FourCC
	if fourcc == "" {
		fourcc = "mp4v"
	}
	first, ok := frames[0].(*MatFrame)
	if !ok {
		return ErrNotMatFrame
	}
	w, err := gocv.VideoWriterFile(filename, fourcc, fps, first.Width(), first.Height(), true)
	if err != nil {
		return fmt.Errorf("Failed to create video writer for %v: %w", filename, err)
	}
	defer w.Close()
	for _, f := range frames {
		mf, ok := f.(*MatFrame)
		if !ok {
			return ErrNotMatFrame
		}
		if err := w.Write(mf.Mat); err != nil {
			return err
		}
	}
	return nil
}
