package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"wbcscan/internal/dto"
	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const insertDetection = `
	INSERT INTO detections (image_id, class_id, class_name, cx, cy, width, height, confidence)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// ReplaceForImage sets the annotated path of an image and replaces its detections.
// Either all three changes are committed or none is.
func (r *DetectionRepository) ReplaceForImage(imageID int64, annotatedPath string, detections []model.Detection) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE images SET annotated_path = ? WHERE id = ?`, annotatedPath, imageID)
	if err != nil {
		return fmt.Errorf("failed to update annotated image: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("image %d: %w", imageID, repository.ErrNotFound)
	}

	if _, err := tx.Exec(`DELETE FROM detections WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	for i := range detections {
		detections[i].ImageID = imageID
	}
	if err := insertDetections(tx, detections); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detections: %w", err)
	}
	return nil
}

func insertDetections(tx *sql.Tx, detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(insertDetection)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.ImageID, det.ClassID, det.ClassName,
			det.Box.CX, det.Box.CY, det.Box.Width, det.Box.Height, det.Confidence); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}
	return nil
}

// GetByImageID retrieves all detections for an image.
func (r *DetectionRepository) GetByImageID(imageID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, image_id, class_id, class_name, cx, cy, width, height, confidence
		FROM detections WHERE image_id = ? ORDER BY id
	`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var det model.Detection
		if err := rows.Scan(&det.ID, &det.ImageID, &det.ClassID, &det.ClassName,
			&det.Box.CX, &det.Box.CY, &det.Box.Width, &det.Box.Height, &det.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// CountByImageIDs returns the number of detections per image.
func (r *DetectionRepository) CountByImageIDs(imageIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(imageIDs))
	if len(imageIDs) == 0 {
		return counts, nil
	}

	r.db.RLock()
	defer r.db.RUnlock()

	placeholders, args := inClause(imageIDs)
	rows, err := r.db.Conn().Query(`
		SELECT image_id, COUNT(*) FROM detections
		WHERE image_id IN (`+placeholders+`) GROUP BY image_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan detection count: %w", err)
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// GetClassNames returns the distinct class names detected within a project.
func (r *DetectionRepository) GetClassNames(projectID int64) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT DISTINCT d.class_name
		FROM detections d
		JOIN images i ON d.image_id = i.id
		WHERE i.project_id = ?
		ORDER BY d.class_name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan class name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CountByClassAndBatch counts detections grouped by class name and batch name.
// Class names are matched case-insensitively; an empty list matches every class.
func (r *DetectionRepository) CountByClassAndBatch(query dto.StatsQuery) ([]dto.ClassCount, error) {
	if len(query.BatchIDs) == 0 {
		return nil, nil
	}

	r.db.RLock()
	defer r.db.RUnlock()

	batchPlaceholders, args := inClause(query.BatchIDs)
	sqlQuery := `
		SELECT d.class_name, b.name, COUNT(d.id)
		FROM detections d
		JOIN images i ON d.image_id = i.id
		JOIN batches b ON i.batch_id = b.id
		WHERE i.project_id = ? AND i.batch_id IN (` + batchPlaceholders + `)`
	args = append([]interface{}{query.ProjectID}, args...)

	if len(query.ClassNames) > 0 {
		lowered := make([]string, len(query.ClassNames))
		for i, name := range query.ClassNames {
			lowered[i] = strings.ToLower(name)
		}
		classPlaceholders, classArgs := inClause(lowered)
		sqlQuery += ` AND LOWER(d.class_name) IN (` + classPlaceholders + `)`
		args = append(args, classArgs...)
	}

	sqlQuery += ` GROUP BY d.class_name, b.name ORDER BY d.class_name, b.name`

	rows, err := r.db.Conn().Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query class counts: %w", err)
	}
	defer rows.Close()

	var counts []dto.ClassCount
	for rows.Next() {
		var c dto.ClassCount
		if err := rows.Scan(&c.ClassName, &c.BatchName, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan class count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
