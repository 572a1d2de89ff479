package dto

import (
	"encoding/json"
	"time"
)

// ImageInfo is the listing view of a stored image.
type ImageInfo struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Date       time.Time `json:"date"`
	BatchID    int64     `json:"batchId"`
	Annotated  bool      `json:"annotated"`
	Detections int       `json:"detections"`
}

// MarshalJSON formats the upload date as DD-MM-YYYY HH:MM.
func (p ImageInfo) MarshalJSON() ([]byte, error) {
	type Alias ImageInfo
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  p.Date.Format("02-01-2006 15:04"),
		Alias: (Alias)(p),
	})
}
