package dto

import "wbcscan/internal/model"

// DetectionResult is one object returned by a detection model.
type DetectionResult struct {
	ClassID    int
	Label      string
	Confidence float64
	Box        model.Box
}
