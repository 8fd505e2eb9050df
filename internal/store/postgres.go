// Package store provides storage backends for AssistPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversationState(userID string) (*models.ConversationState, error) {
	query := `SELECT user_id, dialogue_type, step, slots, alternative_slots, created_at, updated_at
	          FROM conversation_states WHERE user_id = $1`

	var state models.ConversationState
	var slotsJSON, alternativesJSON sql.NullString
	err := s.db.QueryRow(query, userID).Scan(
		&state.UserID, &state.Type, &state.Step,
		&slotsJSON, &alternativesJSON, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query conversation state for %s: %w", userID, err)
	}
	if err := decodeStateColumns(&state, slotsJSON, alternativesJSON); err != nil {
		slog.Error("PostgresStore GetConversationState decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore GetConversationState found", "userID", userID, "type", state.Type, "step", state.Step)
	return &state, nil
}

func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	slotsJSON, err := marshalSlots(state.Slots)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState marshal failed", "error", err, "userID", state.UserID)
		return err
	}
	alternativesJSON, err := marshalAlternatives(state.AlternativeSlots)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	query := `
		INSERT INTO conversation_states (user_id, dialogue_type, step, slots, alternative_slots, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			dialogue_type = EXCLUDED.dialogue_type,
			step = EXCLUDED.step,
			slots = EXCLUDED.slots,
			alternative_slots = EXCLUDED.alternative_slots,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, state.UserID, state.Type, state.Step,
		nilIfEmpty(slotsJSON), nilIfEmpty(alternativesJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "userID", state.UserID, "type", state.Type, "step", state.Step)
	return nil
}

func (s *PostgresStore) DeleteConversationState(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete conversation state for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore DeleteConversationState succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) SaveContacts(contacts []models.Contact) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin contacts transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO contacts (name_normalized, resource_name, name, emails, phones, organization)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name_normalized) DO UPDATE SET
			resource_name = EXCLUDED.resource_name,
			name = EXCLUDED.name,
			emails = EXCLUDED.emails,
			phones = EXCLUDED.phones,
			organization = EXCLUDED.organization`
	for _, c := range contacts {
		if c.Name == "" {
			continue
		}
		_, err := tx.Exec(query, util.NormalizeName(c.Name), nilIfEmpty(c.ResourceName), c.Name,
			nilIfEmpty(joinList(c.Emails)), nilIfEmpty(joinList(c.Phones)), nilIfEmpty(c.Organization))
		if err != nil {
			slog.Error("PostgresStore SaveContacts failed", "error", err, "name", c.Name)
			return fmt.Errorf("failed to save contact %s: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contacts transaction: %w", err)
	}
	slog.Debug("PostgresStore SaveContacts succeeded", "count", len(contacts))
	return nil
}

func (s *PostgresStore) GetContactByName(name string) (*models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT resource_name, name, emails, phones, organization FROM contacts WHERE name_normalized = $1`,
		util.NormalizeName(name))
	if err != nil {
		slog.Error("PostgresStore GetContactByName query failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to query contact %s: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	c, err := scanContact(rows)
	if err != nil {
		slog.Error("PostgresStore GetContactByName scan failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to scan contact row: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SearchContacts(query string) ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT resource_name, name, emails, phones, organization FROM contacts WHERE name_normalized LIKE $1`,
		"%"+util.NormalizeName(query)+"%")
	if err != nil {
		slog.Error("PostgresStore SearchContacts query failed", "error", err, "query", query)
		return nil, fmt.Errorf("failed to search contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			slog.Error("PostgresStore SearchContacts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	slog.Debug("PostgresStore SearchContacts succeeded", "query", query, "count", len(contacts))
	return contacts, nil
}

func (s *PostgresStore) SaveTenderReminder(reminder models.TenderReminder) error {
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO tender_reminders (user_id, tender_name, bidding_date, notified, created_at) VALUES ($1, $2, $3, $4, $5)`,
		reminder.UserID, reminder.TenderName, reminder.BiddingDate, reminder.Notified, reminder.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTenderReminder failed", "error", err, "tender", reminder.TenderName)
		return fmt.Errorf("failed to save tender reminder %s: %w", reminder.TenderName, err)
	}
	slog.Debug("PostgresStore SaveTenderReminder succeeded", "tender", reminder.TenderName, "biddingDate", reminder.BiddingDate)
	return nil
}

func (s *PostgresStore) ListTenderRemindersDue(day time.Time) ([]models.TenderReminder, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, tender_name, bidding_date, notified, created_at FROM tender_reminders
		 WHERE bidding_date = $1 AND notified = FALSE`,
		day.Format(models.SlotDateFormat))
	if err != nil {
		slog.Error("PostgresStore ListTenderRemindersDue query failed", "error", err)
		return nil, fmt.Errorf("failed to query tender reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.TenderReminder
	for rows.Next() {
		var r models.TenderReminder
		if err := rows.Scan(&r.ID, &r.UserID, &r.TenderName, &r.BiddingDate, &r.Notified, &r.CreatedAt); err != nil {
			slog.Error("PostgresStore ListTenderRemindersDue scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan tender reminder row: %w", err)
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tender reminder rows: %w", err)
	}
	return reminders, nil
}

func (s *PostgresStore) MarkTenderReminderNotified(id int64) error {
	_, err := s.db.Exec(`UPDATE tender_reminders SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore MarkTenderReminderNotified failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark tender reminder %d notified: %w", id, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
