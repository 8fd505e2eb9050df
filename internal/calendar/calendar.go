// Package calendar provides calendar access for AssistPipe.
//
// The Service interface abstracts the Google Calendar REST API so the
// dialogue engine can be tested against a mock.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/googleapi"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/google/uuid"
)

const (
	baseURL = "https://www.googleapis.com/calendar/v3"

	// ScopeCalendar grants read/write calendar access.
	ScopeCalendar = "https://www.googleapis.com/auth/calendar"
)

// CreateEventParams describes an event to create.
type CreateEventParams struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Attendees   []string // email addresses
	WithMeet    bool     // attach a Google Meet conference
}

// Service is the calendar surface used by the dialogue engine.
type Service interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
	BusyIntervals(ctx context.Context, start, end time.Time) ([]models.TimeSlot, error)
	CreateEvent(ctx context.Context, params CreateEventParams) (*models.Event, error)
}

// Opts holds configuration options for the Google Calendar service.
type Opts struct {
	Client     *googleapi.Client
	CalendarID string
}

// Option defines a configuration option for the Google Calendar service.
type Option func(*Opts)

// WithClient sets the authenticated Google API client.
func WithClient(client *googleapi.Client) Option {
	return func(o *Opts) { o.Client = client }
}

// WithCalendarID sets the calendar to operate on.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// GoogleService implements Service against the Google Calendar REST API.
type GoogleService struct {
	client     *googleapi.Client
	calendarID string
}

// NewGoogleService creates a calendar service for the configured calendar.
func NewGoogleService(opts ...Option) (*GoogleService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("google API client must be provided")
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	return &GoogleService{client: cfg.Client, calendarID: cfg.CalendarID}, nil
}

// Wire types for the Calendar API.
type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Description    string          `json:"description,omitempty"`
	Location       string          `json:"location,omitempty"`
	HTMLLink       string          `json:"htmlLink,omitempty"`
	Start          *googleDateTime `json:"start,omitempty"`
	End            *googleDateTime `json:"end,omitempty"`
	Attendees      []googlePerson  `json:"attendees,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
}

type googlePerson struct {
	Email string `json:"email"`
}

type conferenceData struct {
	CreateRequest *conferenceCreateRequest `json:"createRequest,omitempty"`
	EntryPoints   []conferenceEntryPoint   `json:"entryPoints,omitempty"`
}

type conferenceCreateRequest struct {
	RequestID             string                `json:"requestId"`
	ConferenceSolutionKey conferenceSolutionKey `json:"conferenceSolutionKey"`
}

type conferenceSolutionKey struct {
	Type string `json:"type"`
}

type conferenceEntryPoint struct {
	EntryPointType string `json:"entryPointType"`
	URI            string `json:"uri"`
}

// ListEvents retrieves events overlapping [start, end), expanded and ordered
// by start time.
func (s *GoogleService) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	query := url.Values{}
	query.Set("timeMin", start.Format(time.RFC3339))
	query.Set("timeMax", end.Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", baseURL, url.PathEscape(s.calendarID), query.Encode())
	data, err := s.client.Request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var resp struct {
		Items []googleEvent `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}

	events := make([]models.Event, 0, len(resp.Items))
	for i := range resp.Items {
		event, err := convertEvent(&resp.Items[i])
		if err != nil {
			slog.Warn("Calendar skipping malformed event", "error", err, "eventID", resp.Items[i].ID)
			continue
		}
		events = append(events, event)
	}
	slog.Debug("Calendar ListEvents succeeded", "count", len(events))
	return events, nil
}

// BusyIntervals returns the busy periods of the calendar within [start, end).
func (s *GoogleService) BusyIntervals(ctx context.Context, start, end time.Time) ([]models.TimeSlot, error) {
	reqBody := map[string]interface{}{
		"timeMin": start.Format(time.RFC3339),
		"timeMax": end.Format(time.RFC3339),
		"items":   []map[string]string{{"id": s.calendarID}},
	}
	data, err := s.client.Request(ctx, http.MethodPost, baseURL+"/freeBusy", reqBody)
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse freebusy response: %w", err)
	}
	cal, ok := resp.Calendars[s.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %s not present in freebusy response", s.calendarID)
	}

	busy := make([]models.TimeSlot, 0, len(cal.Busy))
	for _, interval := range cal.Busy {
		startTime, err := time.Parse(time.RFC3339, interval.Start)
		if err != nil {
			continue
		}
		endTime, err := time.Parse(time.RFC3339, interval.End)
		if err != nil {
			continue
		}
		busy = append(busy, models.TimeSlot{Start: startTime, End: endTime})
	}
	slog.Debug("Calendar BusyIntervals succeeded", "count", len(busy))
	return busy, nil
}

// CreateEvent creates an event, optionally with a Google Meet conference.
func (s *GoogleService) CreateEvent(ctx context.Context, params CreateEventParams) (*models.Event, error) {
	event := googleEvent{
		Summary:     params.Summary,
		Description: params.Description,
		Location:    params.Location,
	}
	if params.AllDay {
		event.Start = &googleDateTime{Date: params.Start.Format(models.SlotDateFormat)}
		event.End = &googleDateTime{Date: params.End.Format(models.SlotDateFormat)}
	} else {
		event.Start = &googleDateTime{
			DateTime: params.Start.Format(time.RFC3339),
			TimeZone: params.Start.Location().String(),
		}
		event.End = &googleDateTime{
			DateTime: params.End.Format(time.RFC3339),
			TimeZone: params.End.Location().String(),
		}
	}
	for _, email := range params.Attendees {
		event.Attendees = append(event.Attendees, googlePerson{Email: email})
	}

	query := url.Values{}
	if params.WithMeet {
		event.ConferenceData = &conferenceData{
			CreateRequest: &conferenceCreateRequest{
				RequestID:             uuid.NewString(),
				ConferenceSolutionKey: conferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
		query.Set("conferenceDataVersion", "1")
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", baseURL, url.PathEscape(s.calendarID))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	data, err := s.client.Request(ctx, http.MethodPost, endpoint, event)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	var created googleEvent
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("parse created event: %w", err)
	}
	result, err := convertEvent(&created)
	if err != nil {
		return nil, err
	}
	slog.Info("Calendar event created", "eventID", result.ID, "summary", result.Summary)
	return &result, nil
}

// convertEvent converts a wire event to the shared model.
func convertEvent(item *googleEvent) (models.Event, error) {
	event := models.Event{
		ID:       item.ID,
		Summary:  item.Summary,
		Location: item.Location,
		HTMLLink: item.HTMLLink,
	}
	if item.Start != nil {
		switch {
		case item.Start.DateTime != "":
			t, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				return models.Event{}, fmt.Errorf("parse start time: %w", err)
			}
			event.Start = t
		case item.Start.Date != "":
			t, err := time.Parse(models.SlotDateFormat, item.Start.Date)
			if err != nil {
				return models.Event{}, fmt.Errorf("parse start date: %w", err)
			}
			event.Start = t
			event.AllDay = true
		}
	}
	if item.End != nil {
		switch {
		case item.End.DateTime != "":
			t, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				return models.Event{}, fmt.Errorf("parse end time: %w", err)
			}
			event.End = t
		case item.End.Date != "":
			t, err := time.Parse(models.SlotDateFormat, item.End.Date)
			if err != nil {
				return models.Event{}, fmt.Errorf("parse end date: %w", err)
			}
			event.End = t
		}
	}
	if item.ConferenceData != nil {
		for _, entry := range item.ConferenceData.EntryPoints {
			if entry.EntryPointType == "video" {
				event.MeetLink = entry.URI
				break
			}
		}
	}
	return event, nil
}

// MockService implements Service for tests. Busy intervals and listed events
// are configured up front; created events are recorded.
type MockService struct {
	Busy          []models.TimeSlot
	Events        []models.Event
	CreatedEvents []CreateEventParams
	CreateErr     error
	Created       models.Event
}

func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, e := range m.Events {
		if e.Start.Before(end) && e.End.After(start) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockService) BusyIntervals(ctx context.Context, start, end time.Time) ([]models.TimeSlot, error) {
	var out []models.TimeSlot
	for _, b := range m.Busy {
		if b.Start.Before(end) && b.End.After(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockService) CreateEvent(ctx context.Context, params CreateEventParams) (*models.Event, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.CreatedEvents = append(m.CreatedEvents, params)
	created := m.Created
	if created.ID == "" {
		created = models.Event{
			ID:       "evt-mock",
			Summary:  params.Summary,
			Location: params.Location,
			Start:    params.Start,
			End:      params.End,
			AllDay:   params.AllDay,
			HTMLLink: "https://calendar.google.com/event?eid=mock",
			MeetLink: "https://meet.google.com/mock",
		}
	}
	return &created, nil
}
