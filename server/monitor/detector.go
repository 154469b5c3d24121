package monitor

import "github.com/drishti-agent/edge/pkg/nn"

// filterDetections drops detections at or below the confidence threshold, and detections without a class
func filterDetections(in []nn.ObjectDetection, minConfidence float32) []nn.ObjectDetection {
	out := make([]nn.ObjectDetection, 0, len(in))
	for _, d := range in {
		if d.Confidence <= minConfidence || d.Class == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
