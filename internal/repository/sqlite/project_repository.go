package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// ProjectRepository implements repository.ProjectRepository for SQLite.
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new SQLite project repository.
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Insert adds a new project.
func (r *ProjectRepository) Insert(project *model.Project) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`INSERT INTO projects (user_id, name, created_at) VALUES (?, ?, ?)`,
		project.UserID, project.Name, project.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert project: %w", err)
	}
	return result.LastInsertId()
}

// InsertBatch adds a new batch to a project.
func (r *ProjectRepository) InsertBatch(batch *model.Batch) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`INSERT INTO batches (project_id, name, created_at) VALUES (?, ?, ?)`,
		batch.ProjectID, batch.Name, batch.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch: %w", err)
	}
	return result.LastInsertId()
}

// GetByID retrieves a project owned by the given user.
func (r *ProjectRepository) GetByID(userID, projectID int64) (*model.Project, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var p model.Project
	err := r.db.Conn().QueryRow(`
		SELECT id, user_id, name, created_at FROM projects WHERE id = ? AND user_id = ?
	`, projectID, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// GetAllByUser lists the projects of a user, newest first.
func (r *ProjectRepository) GetAllByUser(userID int64) ([]model.Project, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, user_id, name, created_at FROM projects WHERE user_id = ? ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetBatch retrieves one batch of a project.
func (r *ProjectRepository) GetBatch(projectID, batchID int64) (*model.Batch, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var b model.Batch
	err := r.db.Conn().QueryRow(`
		SELECT id, project_id, name, created_at FROM batches WHERE id = ? AND project_id = ?
	`, batchID, projectID).Scan(&b.ID, &b.ProjectID, &b.Name, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// GetBatches lists the batches of a project in creation order.
func (r *ProjectRepository) GetBatches(projectID int64) ([]model.Batch, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, project_id, name, created_at FROM batches WHERE project_id = ? ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		var b model.Batch
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Delete removes a project of a user; batches, images and detections cascade.
func (r *ProjectRepository) Delete(userID, projectID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM projects WHERE id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireAffected(result)
}

// DeleteBatch removes a batch of a project; images and detections cascade.
func (r *ProjectRepository) DeleteBatch(projectID, batchID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM batches WHERE id = ? AND project_id = ?`, batchID, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
