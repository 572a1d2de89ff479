package dto

const (
	// DetectionProgressEvent carries the percent of images processed by a run.
	DetectionProgressEvent = "update progress"
	// UploadProgressEvent carries the percent of files stored by an upload.
	UploadProgressEvent = "update upload progress"
)

// ProgressMessage is pushed to connected viewers over the progress WebSocket.
type ProgressMessage struct {
	Event string `json:"event"`
	Value int    `json:"value"`
}
