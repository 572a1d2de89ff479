package yolo

import (
	"image"
	"image/color"
	"math"
	"testing"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
)

const eps = 1e-4

func almost(a, b float64) bool {
	return math.Abs(a-b) < eps
}

// buildOutput lays anchors out as the network does: one row per channel.
func buildOutput(anchors [][]float32) ([]float32, int, int) {
	channels := len(anchors[0])
	out := make([]float32, channels*len(anchors))
	for a, values := range anchors {
		for c, v := range values {
			out[c*len(anchors)+a] = v
		}
	}
	return out, channels, len(anchors)
}

func TestDecode(t *testing.T) {
	output, channels, anchors := buildOutput([][]float32{
		{320, 160, 100, 100, 0.9, 0.1},
		{324, 160, 100, 100, 0.8, 0.1},
		{100, 100, 20, 20, 0.05, 0.1},
		{320, 160, 100, 100, 0.1, 0.7},
	})

	params := Params{
		InputSize:     640,
		ConfThreshold: 0.25,
		NMSThreshold:  0.45,
		ClassNames:    []string{"lymphocyte", "monocyte"},
	}

	results, err := Decode(output, channels, anchors, 320, 160, params)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 detections, got %d: %+v", len(results), results)
	}

	first := results[0]
	if first.ClassID != 0 || first.Label != "lymphocyte" || !almost(first.Confidence, 0.9) {
		t.Errorf("Unexpected first detection: %+v", first)
	}
	want := model.Box{CX: 0.5, CY: 0.5, Width: 50.0 / 320.0, Height: 50.0 / 160.0}
	if !almost(first.Box.CX, want.CX) || !almost(first.Box.CY, want.CY) ||
		!almost(first.Box.Width, want.Width) || !almost(first.Box.Height, want.Height) {
		t.Errorf("Expected box %+v, got %+v", want, first.Box)
	}

	if results[1].ClassID != 1 || results[1].Label != "monocyte" {
		t.Errorf("Overlapping box of another class should survive, got %+v", results[1])
	}
}

func TestDecode_ClipsToImage(t *testing.T) {
	output, channels, anchors := buildOutput([][]float32{
		{0, 0, 100, 100, 0.9},
	})

	results, err := Decode(output, channels, anchors, 640, 640, Params{InputSize: 640, ConfThreshold: 0.5})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(results))
	}
	box := results[0].Box
	if !almost(box.CX, 25.0/640) || !almost(box.Width, 50.0/640) {
		t.Errorf("Box not clipped to image: %+v", box)
	}
	if results[0].Label != "class_0" {
		t.Errorf("Expected generic label, got %s", results[0].Label)
	}
}

func TestDecode_ClassCountMismatch(t *testing.T) {
	output, channels, anchors := buildOutput([][]float32{
		{10, 10, 5, 5, 0.9, 0.1},
	})

	_, err := Decode(output, channels, anchors, 640, 640, Params{
		InputSize:  640,
		ClassNames: []string{"basophil", "eosinophil", "lymphoblast"},
	})
	if err == nil {
		t.Error("Expected error for mismatched class count")
	}
}

func TestDecode_BadShape(t *testing.T) {
	if _, err := Decode(make([]float32, 10), 6, 5, 10, 10, Params{InputSize: 640}); err == nil {
		t.Error("Expected error for short output")
	}
	if _, err := Decode(nil, 4, 1, 10, 10, Params{InputSize: 640}); err == nil {
		t.Error("Expected error for missing class channels")
	}
}

func TestNMS(t *testing.T) {
	box := model.Box{CX: 0.5, CY: 0.5, Width: 0.2, Height: 0.2}
	shifted := model.Box{CX: 0.51, CY: 0.5, Width: 0.2, Height: 0.2}
	far := model.Box{CX: 0.1, CY: 0.1, Width: 0.1, Height: 0.1}

	dets := []dto.DetectionResult{
		{ClassID: 0, Confidence: 0.6, Box: shifted},
		{ClassID: 0, Confidence: 0.9, Box: box},
		{ClassID: 0, Confidence: 0.5, Box: far},
	}

	kept := NMS(dets, 0.45)
	if len(kept) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(kept))
	}
	if kept[0].Confidence != 0.9 || kept[1].Confidence != 0.5 {
		t.Errorf("Unexpected survivors: %+v", kept)
	}
}

func TestIoU(t *testing.T) {
	a := model.Box{CX: 0.5, CY: 0.5, Width: 0.2, Height: 0.2}
	if got := IoU(a, a); !almost(got, 1) {
		t.Errorf("IoU of identical boxes = %f", got)
	}

	b := model.Box{CX: 0.6, CY: 0.5, Width: 0.2, Height: 0.2}
	// Intersection 0.1*0.2, union 2*0.04-0.02.
	if got := IoU(a, b); !almost(got, 0.02/0.06) {
		t.Errorf("IoU = %f, want %f", got, 0.02/0.06)
	}

	c := model.Box{CX: 0.9, CY: 0.9, Width: 0.1, Height: 0.1}
	if got := IoU(a, c); got != 0 {
		t.Errorf("Disjoint boxes IoU = %f", got)
	}
}

func TestLetterbox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	square, side := Letterbox(src)
	if side != 40 || square.Bounds().Dx() != 40 || square.Bounds().Dy() != 40 {
		t.Fatalf("Expected 40x40, got %v (side %d)", square.Bounds(), side)
	}
	if got := square.NRGBAAt(5, 5); got.R != 255 || got.G != 0 {
		t.Errorf("Image content moved: %v", got)
	}
	if got := square.NRGBAAt(5, 30); got != PadColor {
		t.Errorf("Expected padding at bottom, got %v", got)
	}
}
