package model

// MLModel is a registered detection model artifact.
// ClassNames is indexed by class id.
type MLModel struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	ClassNames []string `json:"class_names"`
}
