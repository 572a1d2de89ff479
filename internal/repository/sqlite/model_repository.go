package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// ModelRepository implements repository.ModelRepository for SQLite.
// Class names are stored newline separated in index order.
type ModelRepository struct {
	db *DB
}

// NewModelRepository creates a new SQLite model repository.
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{db: db}
}

// Insert registers a model artifact, replacing an existing one with the same name.
func (r *ModelRepository) Insert(m *model.MLModel) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO ml_models (name, path, class_names) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET path = excluded.path, class_names = excluded.class_names
	`, m.Name, m.Path, strings.Join(m.ClassNames, "\n"))
	if err != nil {
		return 0, fmt.Errorf("failed to insert model: %w", err)
	}
	return result.LastInsertId()
}

// GetByName retrieves a model by its unique name.
func (r *ModelRepository) GetByName(name string) (*model.MLModel, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var m model.MLModel
	var classes string
	err := r.db.Conn().QueryRow(`SELECT id, name, path, class_names FROM ml_models WHERE name = ?`, name).
		Scan(&m.ID, &m.Name, &m.Path, &classes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	m.ClassNames = splitClassNames(classes)
	return &m, nil
}

// GetAll lists registered models by name.
func (r *ModelRepository) GetAll() ([]model.MLModel, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT id, name, path, class_names FROM ml_models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []model.MLModel
	for rows.Next() {
		var m model.MLModel
		var classes string
		if err := rows.Scan(&m.ID, &m.Name, &m.Path, &classes); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		m.ClassNames = splitClassNames(classes)
		models = append(models, m)
	}
	return models, rows.Err()
}

func splitClassNames(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
