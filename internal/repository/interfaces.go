package repository

import (
	"errors"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
)

// ErrNotFound is returned when a referenced row no longer exists.
var ErrNotFound = errors.New("not found")

// UserRepository defines the interface for account data operations.
type UserRepository interface {
	Insert(user *model.User) (int64, error)
	GetByID(id int64) (*model.User, error)
	GetByEmail(email string) (*model.User, error)
}

// ProjectRepository defines the interface for project and batch data operations.
type ProjectRepository interface {
	// Create operations
	Insert(project *model.Project) (int64, error)
	InsertBatch(batch *model.Batch) (int64, error)

	// Read operations
	GetByID(userID, projectID int64) (*model.Project, error)
	GetAllByUser(userID int64) ([]model.Project, error)
	GetBatch(projectID, batchID int64) (*model.Batch, error)
	GetBatches(projectID int64) ([]model.Batch, error)

	// Delete operations
	Delete(userID, projectID int64) error
	DeleteBatch(projectID, batchID int64) error
}

// ImageRepository defines the interface for image data operations.
type ImageRepository interface {
	// Create operations
	Insert(img *model.Image) (int64, error)

	// Read operations
	GetByID(projectID, imageID int64) (*model.Image, error)
	GetAll(filter *dto.ImageFilters) ([]model.Image, error)
	GetTotalCount(filter *dto.ImageFilters) (int, error)

	// Delete operations
	DeleteByIDs(projectID int64, ids []int64) error
}

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Write operations
	ReplaceForImage(imageID int64, annotatedPath string, detections []model.Detection) error

	// Read operations
	GetByImageID(imageID int64) ([]model.Detection, error)
	CountByImageIDs(imageIDs []int64) (map[int64]int, error)
	GetClassNames(projectID int64) ([]string, error)
	CountByClassAndBatch(query dto.StatsQuery) ([]dto.ClassCount, error)
}

// ModelRepository defines the interface for registered detection models.
type ModelRepository interface {
	Insert(m *model.MLModel) (int64, error)
	GetByName(name string) (*model.MLModel, error)
	GetAll() ([]model.MLModel, error)
}
