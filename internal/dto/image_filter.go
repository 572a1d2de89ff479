// ImageFilters narrow the image list to one project and a set of batches.
package dto

type ImageFilters struct {
	ProjectID int64
	BatchIDs  []int64
	Limit     int
	Offset    int
}
