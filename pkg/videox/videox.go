// Package videox holds the frame level abstractions that the rest of the system uses.
// Concrete implementations backed by OpenCV live in the cv subpackage, so that
// everything above this layer can be built and tested without cgo.
package videox

import "io"

// ErrEndOfStream is returned by FrameSource.Next when a finite source is exhausted.
var ErrEndOfStream = io.EOF

// Frame is a decoded video frame.
// Frames are reference types that own native memory, so whoever holds a frame must Close it.
type Frame interface {
	Width() int
	Height() int

	// Clone returns a deep copy of the frame, which must be closed independently.
	Clone() Frame

	Close() error
}

// FrameSource produces frames from a camera, stream, or file.
type FrameSource interface {
	// Next blocks until the next frame is available.
	// Returns ErrEndOfStream when there are no more frames.
	Next() (Frame, error)

	// FPS reports the native frame rate of the source, or 0 if unknown.
	FPS() float64

	Close() error
}

// ClipEncoder writes a sequence of frames to a video file.
type ClipEncoder interface {
	Encode(filename string, frames []Frame, fps float64) error
}
