// ImagesData is a paginated response payload for the images table of a batch.
package dto

type ImagesData struct {
	Images      []ImageInfo `json:"images"`
	BatchID     int64       `json:"batchId"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}
