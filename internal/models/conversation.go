package models

import (
	"time"
)

// DialogueType identifies which multi-turn dialogue a user is in.
// The absence of persisted state means no dialogue is active.
type DialogueType string

const (
	DialogueEmail   DialogueType = "email"
	DialogueMeeting DialogueType = "meeting"
	DialogueTender  DialogueType = "tender"
)

// Step identifies the current position within a dialogue.
type Step string

// Email dialogue steps.
const (
	StepEmailRecipient Step = "email_recipient"
	StepEmailSubject   Step = "email_subject"
	StepEmailBody      Step = "email_body"
	StepEmailConfirm   Step = "email_confirm"
)

// Meeting dialogue steps.
const (
	StepMeetingPerson       Step = "meeting_person"
	StepMeetingConfirmEmail Step = "meeting_confirm_email"
	StepMeetingDate         Step = "meeting_date"
	StepMeetingTime         Step = "meeting_time"
	StepMeetingConfirm      Step = "meeting_confirm"
)

// Tender dialogue steps.
const (
	StepTenderAwaitingFile Step = "tender_awaiting_file"
)

// SlotKey names a collected value inside a conversation.
type SlotKey string

const (
	SlotRecipient      SlotKey = "recipient"
	SlotSubject        SlotKey = "subject"
	SlotBody           SlotKey = "body"
	SlotSuggestedEmail SlotKey = "suggested_email"
	SlotPerson         SlotKey = "person"
	SlotPersonEmail    SlotKey = "person_email"
	SlotDate           SlotKey = "date"     // formatted as 2006-01-02
	SlotTime           SlotKey = "time"     // formatted as 15:04
	SlotDuration       SlotKey = "duration" // integer minutes
)

// Slot value formats. Dates and times are stored as strings so state survives
// JSON round-trips through any store backend without timezone drift.
const (
	SlotDateFormat = "2006-01-02"
	SlotTimeFormat = "15:04"
)

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ConversationState is the persisted per-user dialogue position. Slots holds
// everything collected so far; AlternativeSlots holds the numbered free slots
// offered after a calendar conflict, awaiting the user's selection.
type ConversationState struct {
	UserID           string             `json:"user_id"`
	Type             DialogueType       `json:"type"`
	Step             Step               `json:"step"`
	Slots            map[SlotKey]string `json:"slots"`
	AlternativeSlots []TimeSlot         `json:"alternative_slots,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewConversationState creates a fresh state positioned at the given step.
func NewConversationState(userID string, dt DialogueType, step Step) *ConversationState {
	now := time.Now()
	return &ConversationState{
		UserID:    userID,
		Type:      dt,
		Step:      step,
		Slots:     make(map[SlotKey]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Slot returns the value for key, or "" when unset.
func (s *ConversationState) Slot(key SlotKey) string {
	if s.Slots == nil {
		return ""
	}
	return s.Slots[key]
}

// SetSlot records a collected value.
func (s *ConversationState) SetSlot(key SlotKey, value string) {
	if s.Slots == nil {
		s.Slots = make(map[SlotKey]string)
	}
	s.Slots[key] = value
}

// Intent classifies what the user wants from a free-text message.
type Intent string

const (
	IntentSendEmail       Intent = "send_email"
	IntentScheduleMeeting Intent = "schedule_meeting"
	IntentCheckCalendar   Intent = "check_calendar"
	IntentFindContact     Intent = "find_contact"
	IntentCheckFreeSlots  Intent = "check_free_slots"
	IntentProcessTenders  Intent = "process_tenders"
	IntentUnknown         Intent = "unknown"
)

// EntityBag holds entities extracted from a single message. It is ephemeral;
// values worth keeping are copied into conversation slots.
type EntityBag struct {
	Persons  []string
	Emails   []string
	Date     string // 2006-01-02, already resolved against the reference time
	Time     string // 15:04
	Duration int    // minutes, 0 when absent
	Subject  string
	Body     string
	Location string
}

// Contact is a directory entry, either from the Google directory or the
// local cache.
type Contact struct {
	ResourceName string   `json:"resource_name,omitempty"`
	Name         string   `json:"name"`
	Emails       []string `json:"emails,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// PrimaryEmail returns the first known address, or "".
func (c Contact) PrimaryEmail() string {
	if len(c.Emails) == 0 {
		return ""
	}
	return c.Emails[0]
}

// Event is a calendar event as created or listed.
type Event struct {
	ID       string    `json:"id,omitempty"`
	Summary  string    `json:"summary"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day,omitempty"`
	HTMLLink string    `json:"html_link,omitempty"`
	MeetLink string    `json:"meet_link,omitempty"`
}

// Tender is one row parsed from an uploaded tender file.
type Tender struct {
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	BiddingDate time.Time `json:"bidding_date"`
}

// TenderReminder is a stored reminder that a tender's bidding date is due.
type TenderReminder struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	TenderName  string    `json:"tender_name"`
	BiddingDate time.Time `json:"bidding_date"`
	Notified    bool      `json:"notified"`
	CreatedAt   time.Time `json:"created_at"`
}

// Attachment describes inbound media referenced by a webhook delivery.
type Attachment struct {
	URL         string
	ContentType string
}
