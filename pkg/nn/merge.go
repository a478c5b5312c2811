package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/labeler/pkg/geom"
)

// Labeled is a shape that already has a class, for duplicate checks
type Labeled struct {
	Shape geom.Shape
	Class int
}

// DropDuplicates returns the indices of the candidates that should be kept.
// A candidate is dropped if it overlaps an existing object of the same class with
// IoU >= minIoU, or an earlier kept candidate of the same class.
// IoU is measured on bounding boxes. minIoU <= 0 keeps everything.
func DropDuplicates(existing []Labeled, candidates []Labeled, minIoU float64) []int {
	retain := make([]int, 0, len(candidates))
	if minIoU <= 0 {
		for i := range candidates {
			retain = append(retain, i)
		}
		return retain
	}

	// Create spatial index to avoid O(N^2) comparisons.
	// The index holds existing objects followed by candidates.
	all := make([]Labeled, 0, len(existing)+len(candidates))
	all = append(all, existing...)
	all = append(all, candidates...)
	fb := flatbush.NewFlatbush[float64]()
	fb.Reserve(len(all))
	for _, o := range all {
		b := o.Shape.Bounds()
		fb.Add(b.X1, b.Y1, b.X2, b.Y2)
	}
	fb.Finish()

	// Existing objects are always retained
	deleted := make([]bool, len(all))
	for i := len(existing); i < len(all); i++ {
		in := all[i].Shape.Bounds()
		for _, j := range fb.Search(in.X1, in.Y1, in.X2, in.Y2) {
			// Only compare against existing objects, and candidates that precede us and survived
			if j >= i || deleted[j] {
				continue
			}
			if all[j].Class != all[i].Class {
				continue
			}
			if in.IOU(all[j].Shape.Bounds()) >= minIoU {
				deleted[i] = true
				break
			}
		}
		if !deleted[i] {
			retain = append(retain, i-len(existing))
		}
	}
	return retain
}
