package nn

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// NonMaxSuppression removes boxes that overlap a more confident box of the same class
// by at least minIoU. The returned slice is ordered by descending confidence.
func NonMaxSuppression(input []ObjectDetection, minIoU float32) []ObjectDetection {
	if len(input) == 0 {
		return nil
	}

	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return input[order[i]].Confidence > input[order[j]].Confidence
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(int32(d.Box.X), int32(d.Box.Y), int32(d.Box.X2()), int32(d.Box.Y2()))
	}
	fb.Finish()

	suppressed := make([]bool, len(input))
	retain := make([]ObjectDetection, 0, len(input))
	near := []int{}
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		a := input[i]
		retain = append(retain, a)
		near = fb.SearchFast(int32(a.Box.X), int32(a.Box.Y), int32(a.Box.X2()), int32(a.Box.Y2()), near[:0])
		for _, j := range near {
			if j == i || suppressed[j] || input[j].Class != a.Class {
				continue
			}
			if a.Box.IOU(input[j].Box) >= minIoU {
				suppressed[j] = true
			}
		}
	}
	return retain
}
