// Package yolo converts raw YOLOv8 network output into normalized detections.
package yolo

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
)

// PadColor fills the letterbox border.
var PadColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Params controls decoding.
type Params struct {
	InputSize     int
	ConfThreshold float64
	NMSThreshold  float64
	ClassNames    []string
}

// Letterbox pads img on the right and bottom into a square and returns it with its side length.
func Letterbox(img image.Image) (*image.NRGBA, int) {
	b := img.Bounds()
	side := max(b.Dx(), b.Dy())
	canvas := imaging.New(side, side, PadColor)
	return imaging.Paste(canvas, img, image.Pt(0, 0)), side
}

// Decode reads a [channels x anchors] row-major output where the first four channels
// are cx, cy, w, h in input pixels and the rest are per-class scores. srcW and srcH are
// the dimensions of the image before letterboxing.
func Decode(output []float32, channels, anchors, srcW, srcH int, p Params) ([]dto.DetectionResult, error) {
	if channels < 5 || anchors <= 0 {
		return nil, fmt.Errorf("unexpected output shape %dx%d", channels, anchors)
	}
	if len(output) < channels*anchors {
		return nil, fmt.Errorf("output has %d values, want %d", len(output), channels*anchors)
	}
	numClasses := channels - 4
	if len(p.ClassNames) > 0 && len(p.ClassNames) != numClasses {
		return nil, fmt.Errorf("model reports %d classes, %d registered", numClasses, len(p.ClassNames))
	}
	if srcW <= 0 || srcH <= 0 || p.InputSize <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d for input %d", srcW, srcH, p.InputSize)
	}

	scale := float64(max(srcW, srcH)) / float64(p.InputSize)
	at := func(c, a int) float64 { return float64(output[c*anchors+a]) }

	var candidates []dto.DetectionResult
	for a := 0; a < anchors; a++ {
		classID, score := 0, at(4, a)
		for c := 1; c < numClasses; c++ {
			if s := at(4+c, a); s > score {
				classID, score = c, s
			}
		}
		if score < p.ConfThreshold {
			continue
		}

		cx, cy := at(0, a)*scale, at(1, a)*scale
		w, h := at(2, a)*scale, at(3, a)*scale
		x1 := clamp(cx-w/2, 0, float64(srcW))
		y1 := clamp(cy-h/2, 0, float64(srcH))
		x2 := clamp(cx+w/2, 0, float64(srcW))
		y2 := clamp(cy+h/2, 0, float64(srcH))
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		candidates = append(candidates, dto.DetectionResult{
			ClassID:    classID,
			Label:      label(p.ClassNames, classID),
			Confidence: score,
			Box: model.Box{
				CX:     (x1 + x2) / 2 / float64(srcW),
				CY:     (y1 + y2) / 2 / float64(srcH),
				Width:  (x2 - x1) / float64(srcW),
				Height: (y2 - y1) / float64(srcH),
			},
		})
	}

	return NMS(candidates, p.NMSThreshold), nil
}

// NMS performs greedy per-class non-maximum suppression. The result is ordered by
// descending confidence.
func NMS(dets []dto.DetectionResult, threshold float64) []dto.DetectionResult {
	sorted := make([]dto.DetectionResult, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]dto.DetectionResult, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == cand.ClassID && IoU(k.Box, cand.Box) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

// IoU returns the intersection over union of two center-format boxes.
func IoU(a, b model.Box) float64 {
	ax1, ay1, ax2, ay2 := corners(a)
	bx1, by1, bx2, by2 := corners(b)

	iw := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	ih := math.Min(ay2, by2) - math.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func corners(b model.Box) (x1, y1, x2, y2 float64) {
	return b.CX - b.Width/2, b.CY - b.Height/2, b.CX + b.Width/2, b.CY + b.Height/2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func label(names []string, classID int) string {
	if classID >= 0 && classID < len(names) {
		return names[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}
