package store

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalSlots encodes the slot map as JSON, or "" when empty.
func marshalSlots(slots map[models.SlotKey]string) (string, error) {
	if len(slots) == 0 {
		return "", nil
	}
	b, err := json.Marshal(slots)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// marshalAlternatives encodes the numbered alternative slots as JSON,
// or "" when empty.
func marshalAlternatives(slots []models.TimeSlot) (string, error) {
	if len(slots) == 0 {
		return "", nil
	}
	b, err := json.Marshal(slots)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStateColumns fills the JSON-backed fields of a conversation state.
func decodeStateColumns(state *models.ConversationState, slotsJSON, alternativesJSON sql.NullString) error {
	state.Slots = make(map[models.SlotKey]string)
	if slotsJSON.Valid && slotsJSON.String != "" {
		if err := json.Unmarshal([]byte(slotsJSON.String), &state.Slots); err != nil {
			return err
		}
	}
	if alternativesJSON.Valid && alternativesJSON.String != "" {
		if err := json.Unmarshal([]byte(alternativesJSON.String), &state.AlternativeSlots); err != nil {
			return err
		}
	}
	return nil
}

// joinList and splitList store string slices in a single text column.
// Values never contain newlines, so "\n" is a safe separator.
func joinList(values []string) string {
	return strings.Join(values, "\n")
}

func splitList(joined sql.NullString) []string {
	if !joined.Valid || joined.String == "" {
		return nil
	}
	return strings.Split(joined.String, "\n")
}

// scanContact scans a contact from sql.Rows.
func scanContact(rows *sql.Rows) (models.Contact, error) {
	var c models.Contact
	var resourceName, emails, phones, organization sql.NullString
	if err := rows.Scan(&resourceName, &c.Name, &emails, &phones, &organization); err != nil {
		return c, err
	}
	c.ResourceName = resourceName.String
	c.Emails = splitList(emails)
	c.Phones = splitList(phones)
	c.Organization = organization.String
	return c, nil
}
