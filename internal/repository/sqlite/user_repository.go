package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"wbcscan/internal/model"
	"wbcscan/internal/repository"
)

// UserRepository implements repository.UserRepository for SQLite.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Insert adds a new user. The email must be unique.
func (r *UserRepository) Insert(user *model.User) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO users (email, first_name, password_hash, totp_secret) VALUES (?, ?, ?, ?)
	`, user.Email, user.FirstName, user.PasswordHash, user.TOTPSecret)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return result.LastInsertId()
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(id int64) (*model.User, error) {
	return r.get(`SELECT id, email, first_name, password_hash, totp_secret FROM users WHERE id = ?`, id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	return r.get(`SELECT id, email, first_name, password_hash, totp_secret FROM users WHERE email = ?`, email)
}

func (r *UserRepository) get(query string, arg interface{}) (*model.User, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var u model.User
	err := r.db.Conn().QueryRow(query, arg).Scan(&u.ID, &u.Email, &u.FirstName, &u.PasswordHash, &u.TOTPSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
