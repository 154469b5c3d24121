package nn

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/drishti-agent/edge/pkg/videox"
)

// Package nn is a Neural Network interface layer

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// ObjectDetection is an object that a neural network has found in an image
type ObjectDetection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// Fill in zero values with defaults
func (p *DetectionParams) WithDefaults() DetectionParams {
	c := *p
	if c.ProbabilityThreshold == 0 {
		c.ProbabilityThreshold = DefaultProbabilityThreshold
	}
	if c.NmsIouThreshold == 0 {
		c.NmsIouThreshold = DefaultNmsIouThreshold
	}
	return c
}

// ObjectDetector is given a frame, and returns zero or more detected objects
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because it's a C++ object underneath)
	Close()

	// DetectObjects returns a list of objects detected in the frame.
	// Box coordinates are in the pixel space of the frame.
	DetectObjects(frame videox.Frame, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig describes the network that a detector is running
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov3-tiny"
	Width        int      `json:"width"`        // eg 416
	Height       int      `json:"height"`       // eg 416
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read class file %v: %w", filename, err)
	}
	return classes, nil
}
