// Package store provides storage backends for AssistPipe.
//
// It persists per-user conversation state, the local contact cache, and
// tender bidding reminders. Backends: in-memory, SQLite, and PostgreSQL.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/util"
)

// Store is the persistence interface shared by all backends.
//
// GetConversationState and GetContactByName return (nil, nil) when no row
// exists; absence is a normal condition, not an error.
type Store interface {
	GetConversationState(userID string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error
	DeleteConversationState(userID string) error

	SaveContacts(contacts []models.Contact) error
	GetContactByName(name string) (*models.Contact, error)
	SearchContacts(query string) ([]models.Contact, error)

	SaveTenderReminder(reminder models.TenderReminder) error
	ListTenderRemindersDue(day time.Time) ([]models.TenderReminder, error)
	MarkTenderReminderNotified(id int64) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths are treated as SQLite databases).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in maps guarded by a single mutex. Reads
// and writes for the same user are serialized, so a dialogue turn never
// observes a half-applied update.
type InMemoryStore struct {
	mu        sync.Mutex
	states    map[string]models.ConversationState
	contacts  map[string]models.Contact // keyed by normalized name
	reminders []models.TenderReminder
	nextID    int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationState),
		contacts: make(map[string]models.Contact),
		nextID:   1,
	}
}

func (s *InMemoryStore) GetConversationState(userID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	clone := cloneState(state)
	return &clone, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = cloneState(state)
	return nil
}

func (s *InMemoryStore) DeleteConversationState(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *InMemoryStore) SaveContacts(contacts []models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		if c.Name == "" {
			continue
		}
		s.contacts[util.NormalizeName(c.Name)] = c
	}
	return nil
}

func (s *InMemoryStore) GetContactByName(name string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[util.NormalizeName(name)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *InMemoryStore) SearchContacts(query string) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := util.NormalizeName(query)
	var matches []models.Contact
	for key, c := range s.contacts {
		if strings.Contains(key, needle) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

func (s *InMemoryStore) SaveTenderReminder(reminder models.TenderReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reminder.ID = s.nextID
	s.nextID++
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now()
	}
	s.reminders = append(s.reminders, reminder)
	return nil
}

func (s *InMemoryStore) ListTenderRemindersDue(day time.Time) ([]models.TenderReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, m, d := day.Date()
	var due []models.TenderReminder
	for _, r := range s.reminders {
		ry, rm, rd := r.BiddingDate.Date()
		if !r.Notified && ry == y && rm == m && rd == d {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *InMemoryStore) MarkTenderReminderNotified(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reminders {
		if s.reminders[i].ID == id {
			s.reminders[i].Notified = true
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// cloneState deep-copies mutable fields so callers cannot mutate stored state
// through a returned pointer.
func cloneState(state models.ConversationState) models.ConversationState {
	clone := state
	if state.Slots != nil {
		clone.Slots = make(map[models.SlotKey]string, len(state.Slots))
		for k, v := range state.Slots {
			clone.Slots[k] = v
		}
	}
	if state.AlternativeSlots != nil {
		clone.AlternativeSlots = append([]models.TimeSlot(nil), state.AlternativeSlots...)
	}
	return clone
}
