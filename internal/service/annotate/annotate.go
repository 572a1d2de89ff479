// Package annotate draws detection boxes and labels onto images.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"wbcscan/internal/dto"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font used for labels.
func Font() *truetype.Font {
	return font
}

// Palette assigns one color per class id, cycling when there are more classes.
var Palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
}

// ClassColor returns the box color of a class.
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		classID = -classID
	}
	return Palette[classID%len(Palette)]
}

// Renderer draws detections and encodes the result as JPEG.
type Renderer struct {
	quality int
}

// NewRenderer creates a renderer with the given JPEG quality.
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Renderer{quality: quality}
}

// Draw returns a copy of img with every detection outlined and labeled.
func (r *Renderer) Draw(img image.Image, detections []dto.DetectionResult) image.Image {
	dc := gg.NewContextForImage(img)
	w, h := float64(dc.Width()), float64(dc.Height())

	lineWidth := math.Max(2, math.Round(math.Min(w, h)/300))
	fontSize := math.Max(10, math.Min(w, h)/40)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, det := range detections {
		c := ClassColor(det.ClassID)
		x1 := (det.Box.CX - det.Box.Width/2) * w
		y1 := (det.Box.CY - det.Box.Height/2) * h
		bw, bh := det.Box.Width*w, det.Box.Height*h

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x1, y1, bw, bh)
		dc.Stroke()

		text := fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		tw, th := dc.MeasureString(text)
		ty := y1 - th - 4
		if ty < 0 {
			ty = y1
		}
		dc.DrawRectangle(x1, ty, tw+6, th+4)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawStringAnchored(text, x1+3, ty+2, 0, 1)
	}

	return dc.Image()
}

// Annotate draws detections and encodes the image as JPEG.
func (r *Renderer) Annotate(img image.Image, detections []dto.DetectionResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, r.Draw(img, detections), imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}
