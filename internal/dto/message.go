package dto

const (
	CategorySuccess = "success"
	CategoryError   = "error"
)

// Message is the user-visible outcome of an action.
type Message struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

// ProjectData lists a project together with its batches.
type ProjectData struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Batches []BatchInfo `json:"batches"`
}

// BatchInfo is the listing view of a batch.
type BatchInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Images  int    `json:"images"`
	Running bool   `json:"running"`
}
