package model

import "time"

// Image represents an uploaded microscope image.
type Image struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	BatchID       int64     `json:"batch_id"`
	Name          string    `json:"name"`
	FilePath      string    `json:"-"`
	AnnotatedPath *string   `json:"-"`
	FileSize      int64     `json:"filesize"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasAnnotation reports whether a detection run produced an annotated copy.
func (i *Image) HasAnnotation() bool {
	return i.AnnotatedPath != nil && *i.AnnotatedPath != ""
}
