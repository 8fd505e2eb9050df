// Package store provides storage backends for AssistPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetConversationState(userID string) (*models.ConversationState, error) {
	query := `SELECT user_id, dialogue_type, step, slots, alternative_slots, created_at, updated_at
	          FROM conversation_states WHERE user_id = ?`

	var state models.ConversationState
	var slotsJSON, alternativesJSON sql.NullString
	err := s.db.QueryRow(query, userID).Scan(
		&state.UserID, &state.Type, &state.Step,
		&slotsJSON, &alternativesJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query conversation state for %s: %w", userID, err)
	}
	if err := decodeStateColumns(&state, slotsJSON, alternativesJSON); err != nil {
		slog.Error("SQLiteStore GetConversationState decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore GetConversationState found", "userID", userID, "type", state.Type, "step", state.Step)
	return &state, nil
}

func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	slotsJSON, err := marshalSlots(state.Slots)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "userID", state.UserID)
		return err
	}
	alternativesJSON, err := marshalAlternatives(state.AlternativeSlots)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO conversation_states (user_id, dialogue_type, step, slots, alternative_slots, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, state.UserID, state.Type, state.Step,
		nilIfEmpty(slotsJSON), nilIfEmpty(alternativesJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "userID", state.UserID, "type", state.Type, "step", state.Step)
	return nil
}

func (s *SQLiteStore) DeleteConversationState(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) SaveContacts(contacts []models.Contact) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin contacts transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO contacts (name_normalized, resource_name, name, emails, phones, organization)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, c := range contacts {
		if c.Name == "" {
			continue
		}
		_, err := tx.Exec(query, util.NormalizeName(c.Name), nilIfEmpty(c.ResourceName), c.Name,
			nilIfEmpty(joinList(c.Emails)), nilIfEmpty(joinList(c.Phones)), nilIfEmpty(c.Organization))
		if err != nil {
			slog.Error("SQLiteStore SaveContacts failed", "error", err, "name", c.Name)
			return fmt.Errorf("failed to save contact %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contacts transaction: %w", err)
	}
	slog.Debug("SQLiteStore SaveContacts succeeded", "count", len(contacts))
	return nil
}

func (s *SQLiteStore) GetContactByName(name string) (*models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT resource_name, name, emails, phones, organization FROM contacts WHERE name_normalized = ?`,
		util.NormalizeName(name))
	if err != nil {
		slog.Error("SQLiteStore GetContactByName query failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to query contact %s: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanContact(rows)
	if err != nil {
		slog.Error("SQLiteStore GetContactByName scan failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to scan contact row: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) SearchContacts(query string) ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT resource_name, name, emails, phones, organization FROM contacts WHERE name_normalized LIKE ?`,
		"%"+util.NormalizeName(query)+"%")
	if err != nil {
		slog.Error("SQLiteStore SearchContacts query failed", "error", err, "query", query)
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			slog.Error("SQLiteStore SearchContacts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	slog.Debug("SQLiteStore SearchContacts succeeded", "query", query, "count", len(contacts))
	return contacts, nil
}

func (s *SQLiteStore) SaveTenderReminder(reminder models.TenderReminder) error {
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO tender_reminders (user_id, tender_name, bidding_date, notified, created_at) VALUES (?, ?, ?, ?, ?)`,
		reminder.UserID, reminder.TenderName, reminder.BiddingDate.Format(models.SlotDateFormat), reminder.Notified, reminder.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTenderReminder failed", "error", err, "tender", reminder.TenderName)
		return fmt.Errorf("failed to save tender reminder %s: %w", reminder.TenderName, err)
	}
	slog.Debug("SQLiteStore SaveTenderReminder succeeded", "tender", reminder.TenderName, "biddingDate", reminder.BiddingDate)
	return nil
}

func (s *SQLiteStore) ListTenderRemindersDue(day time.Time) ([]models.TenderReminder, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, tender_name, bidding_date, notified, created_at FROM tender_reminders
		 WHERE bidding_date = ? AND notified = 0`,
		day.Format(models.SlotDateFormat))
	if err != nil {
		slog.Error("SQLiteStore ListTenderRemindersDue query failed", "error", err)
		return nil, fmt.Errorf("failed to query tender reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.TenderReminder
	for rows.Next() {
		var r models.TenderReminder
		var biddingDate string
		if err := rows.Scan(&r.ID, &r.UserID, &r.TenderName, &biddingDate, &r.Notified, &r.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListTenderRemindersDue scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan tender reminder row: %w", err)
		}
		if parsed, err := time.Parse(models.SlotDateFormat, biddingDate); err == nil {
			r.BiddingDate = parsed
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tender reminder rows: %w", err)
	}
	return reminders, nil
}

func (s *SQLiteStore) MarkTenderReminderNotified(id int64) error {
	_, err := s.db.Exec(`UPDATE tender_reminders SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore MarkTenderReminderNotified failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark tender reminder %d notified: %w", id, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
