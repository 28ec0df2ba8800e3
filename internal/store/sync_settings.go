package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/alwaysplan/internal/model"
)

type SyncSettingsStore struct {
	db *sql.DB
}

func NewSyncSettingsStore(db *sql.DB) *SyncSettingsStore {
	return &SyncSettingsStore{db: db}
}

// Get returns the user's settings, with both flags off when none are stored.
func (s *SyncSettingsStore) Get(userID int64) (*model.SyncSettings, error) {
	st := model.SyncSettings{UserID: userID}
	var imp, exp int
	err := s.db.QueryRow(
		`SELECT import_enabled, export_enabled, updated_at FROM sync_settings WHERE user_id = ?`, userID,
	).Scan(&imp, &exp, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync settings: %w", err)
	}
	st.ImportEnabled = imp != 0
	st.ExportEnabled = exp != 0
	return &st, nil
}

func (s *SyncSettingsStore) SetImport(userID int64, enabled bool) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_settings (user_id, import_enabled) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET import_enabled = excluded.import_enabled, updated_at = CURRENT_TIMESTAMP`,
		userID, boolInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set import enabled: %w", err)
	}
	return nil
}

func (s *SyncSettingsStore) SetExport(userID int64, enabled bool) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_settings (user_id, export_enabled) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET export_enabled = excluded.export_enabled, updated_at = CURRENT_TIMESTAMP`,
		userID, boolInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set export enabled: %w", err)
	}
	return nil
}

// ListEnabled returns every user with import or export switched on.
func (s *SyncSettingsStore) ListEnabled() ([]model.SyncSettings, error) {
	rows, err := s.db.Query(
		`SELECT user_id, import_enabled, export_enabled, updated_at FROM sync_settings
		 WHERE import_enabled = 1 OR export_enabled = 1 ORDER BY user_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled sync settings: %w", err)
	}
	defer rows.Close()

	var out []model.SyncSettings
	for rows.Next() {
		var st model.SyncSettings
		var imp, exp int
		if err := rows.Scan(&st.UserID, &imp, &exp, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync settings: %w", err)
		}
		st.ImportEnabled = imp != 0
		st.ExportEnabled = exp != 0
		out = append(out, st)
	}
	return out, rows.Err()
}
