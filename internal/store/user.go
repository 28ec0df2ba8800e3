package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/alwaysplan/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.Timezone, &u.APIToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const userCols = `id, email, name, timezone, api_token, created_at, updated_at`

// Create inserts a user with a freshly generated API token.
func (s *UserStore) Create(email, name, timezone string) (*model.User, error) {
	result, err := s.db.Exec(
		`INSERT INTO users (email, name, timezone, api_token) VALUES (?, ?, ?, ?)`,
		email, name, timezone, uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) get(where string, arg any) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(id int64) (*model.User, error) {
	return s.get(`id = ?`, id)
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	return s.get(`email = ?`, email)
}

func (s *UserStore) GetByToken(token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.get(`api_token = ?`, token)
}

func (s *UserStore) Update(id int64, email, name, timezone string) (*model.User, error) {
	_, err := s.db.Exec(
		`UPDATE users SET email = ?, name = ?, timezone = ? WHERE id = ?`,
		email, name, timezone, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.GetByID(id)
}

// RotateToken replaces the user's API token and returns the new one.
func (s *UserStore) RotateToken(id int64) (string, error) {
	token := uuid.NewString()
	if _, err := s.db.Exec(`UPDATE users SET api_token = ? WHERE id = ?`, token, id); err != nil {
		return "", fmt.Errorf("rotate api token: %w", err)
	}
	return token, nil
}

func (s *UserStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
