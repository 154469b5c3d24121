// Package cvdnn runs darknet YOLO models through the OpenCV DNN module
package cvdnn

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/drishti-agent/edge/pkg/nn"
	"github.com/drishti-agent/edge/pkg/videox"
	"github.com/drishti-agent/edge/pkg/videox/cv"
	"gocv.io/x/gocv"
)

// YOLO rows are [cx, cy, w, h, objectness, class scores...]
const firstClassColumn = 5

// Detector is an nn.ObjectDetector backed by gocv.Net
type Detector struct {
	lock        sync.Mutex // gocv.Net is not safe for concurrent use
	net         gocv.Net
	outputNames []string
	config      nn.ModelConfig
}

// NewDetector loads a darknet model. If classesFile is empty, the COCO class names are used.
func NewDetector(configFile, weightsFile, classesFile string, inputSize int) (*Detector, error) {
	classes := nn.COCOClasses
	if classesFile != "" {
		var err error
		if classes, err = nn.LoadClassFile(classesFile); err != nil {
			return nil, err
		}
	}
	net := gocv.ReadNet(weightsFile, configFile)
	if net.Empty() {
		return nil, fmt.Errorf("Failed to load neural network from %v and %v", configFile, weightsFile)
	}
	if inputSize <= 0 {
		inputSize = 416
	}
	return &Detector{
		net:         net,
		outputNames: outputLayerNames(&net),
		config: nn.ModelConfig{
			Architecture: "yolo",
			Width:        inputSize,
			Height:       inputSize,
			Classes:      classes,
		},
	}, nil
}

func outputLayerNames(net *gocv.Net) []string {
	layers := net.GetLayerNames()
	names := []string{}
	for _, idx := range net.GetUnconnectedOutLayers() {
		// Layer indices are 1-based
		if idx >= 1 && idx <= len(layers) {
			names = append(names, layers[idx-1])
		}
	}
	return names
}

func (d *Detector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.net.Close()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(frame videox.Frame, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	mf, ok := frame.(*cv.MatFrame)
	if !ok {
		return nil, errors.New("cvdnn requires an OpenCV frame")
	}
	if params == nil {
		params = nn.NewDetectionParams()
	}
	p := params.WithDefaults()

	blob := gocv.BlobFromImage(mf.Mat, 1.0/255.0, image.Pt(d.config.Width, d.config.Height), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.lock.Lock()
	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	d.lock.Unlock()
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	width := float32(frame.Width())
	height := float32(frame.Height())
	dets := []nn.ObjectDetection{}
	for _, out := range outputs {
		for r := 0; r < out.Rows(); r++ {
			bestClass := -1
			bestScore := float32(0)
			for c := firstClassColumn; c < out.Cols(); c++ {
				if s := out.GetFloatAt(r, c); s > bestScore {
					bestScore = s
					bestClass = c - firstClassColumn
				}
			}
			if bestClass < 0 || bestScore < p.ProbabilityThreshold {
				continue
			}
			cx := out.GetFloatAt(r, 0) * width
			cy := out.GetFloatAt(r, 1) * height
			w := out.GetFloatAt(r, 2) * width
			h := out.GetFloatAt(r, 3) * height
			dets = append(dets, nn.ObjectDetection{
				Class:      nn.ClassName(d.config.Classes, bestClass),
				Confidence: bestScore,
				Box: nn.Rect{
					X:      int(cx - w/2),
					Y:      int(cy - h/2),
					Width:  int(w),
					Height: int(h),
				},
			})
		}
	}
	return nn.NonMaxSuppression(dets, p.NmsIouThreshold), nil
}
