package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

const imageColumns = `id, project_id, batch_id, name, filepath, annotated_path, filesize, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row rowScanner) (*model.Image, error) {
	var img model.Image
	var annotated sql.NullString
	if err := row.Scan(&img.ID, &img.ProjectID, &img.BatchID, &img.Name, &img.FilePath, &annotated, &img.FileSize, &img.CreatedAt); err != nil {
		return nil, err
	}
	if annotated.Valid {
		img.AnnotatedPath = &annotated.String
	}
	return &img, nil
}

// Insert adds a new image record to the database.
func (r *ImageRepository) Insert(img *model.Image) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO images (project_id, batch_id, name, filepath, annotated_path, filesize, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, img.ProjectID, img.BatchID, img.Name, img.FilePath, img.AnnotatedPath, img.FileSize, img.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves an image of a project by its ID.
func (r *ImageRepository) GetByID(projectID, imageID int64) (*model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	img, err := scanImage(r.db.Conn().QueryRow(
		`SELECT `+imageColumns+` FROM images WHERE id = ? AND project_id = ?`, imageID, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

// GetAll retrieves the images of the selected batches in ascending ID order.
func (r *ImageRepository) GetAll(filter *dto.ImageFilters) ([]model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if len(filter.BatchIDs) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(filter.BatchIDs)
	query := `SELECT ` + imageColumns + ` FROM images WHERE batch_id IN (` + placeholders + `)`

	if filter.ProjectID > 0 {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}

	query += " ORDER BY id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}

	return images, rows.Err()
}

// GetTotalCount returns the total count of images matching the filter.
func (r *ImageRepository) GetTotalCount(filter *dto.ImageFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if len(filter.BatchIDs) == 0 {
		return 0, nil
	}

	placeholders, args := inClause(filter.BatchIDs)
	query := `SELECT COUNT(*) FROM images WHERE batch_id IN (` + placeholders + `)`

	if filter.ProjectID > 0 {
		query += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}

	return count, nil
}

// DeleteByIDs removes the given images of a project; detections cascade.
func (r *ImageRepository) DeleteByIDs(projectID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	placeholders, args := inClause(ids)
	args = append(args, projectID)
	if _, err := r.db.Conn().Exec(`DELETE FROM images WHERE id IN (`+placeholders+`) AND project_id = ?`, args...); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	return nil
}
