package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/alwaysplan/internal/model"
)

type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Get(userID int64) (*model.CalendarCredential, error) {
	var c model.CalendarCredential
	err := s.db.QueryRow(
		`SELECT user_id, calendar_id, sealed_token, created_at, updated_at
		 FROM calendar_credentials WHERE user_id = ?`, userID,
	).Scan(&c.UserID, &c.CalendarID, &c.SealedToken, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar credential: %w", err)
	}
	return &c, nil
}

func (s *CredentialStore) Put(userID int64, calendarID string, sealed []byte) error {
	if calendarID == "" {
		calendarID = "primary"
	}
	_, err := s.db.Exec(
		`INSERT INTO calendar_credentials (user_id, calendar_id, sealed_token) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET calendar_id = excluded.calendar_id,
		   sealed_token = excluded.sealed_token, updated_at = CURRENT_TIMESTAMP`,
		userID, calendarID, sealed,
	)
	if err != nil {
		return fmt.Errorf("put calendar credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM calendar_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete calendar credential: %w", err)
	}
	return nil
}
