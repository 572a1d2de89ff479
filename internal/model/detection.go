package model

// Box is a bounding box normalized to the image size (YOLO convention).
type Box struct {
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Detection represents one detected white blood cell in an image.
type Detection struct {
	ID         int64   `json:"id"`
	ImageID    int64   `json:"image_id"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}
