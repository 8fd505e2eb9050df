package dialogue

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/contacts"
	"github.com/BTreeMap/AssistPipe/internal/mail"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/nlp"
	"github.com/BTreeMap/AssistPipe/internal/store"
	"github.com/BTreeMap/AssistPipe/internal/tender"
)

const testUser = "14155550100"

// Reference time for all dialogue tests: Monday 2024-06-10, noon UTC.
var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeRecognizer struct {
	intent     models.Intent
	confidence float64
}

func (f *fakeRecognizer) Recognize(ctx context.Context, message string) (models.Intent, float64) {
	return f.intent, f.confidence
}

type mockMessenger struct {
	sent []string
	err  error
}

func (m *mockMessenger) SendMessage(ctx context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockMessenger) last() string {
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

type mockMedia struct {
	payload string
	err     error
}

func (m *mockMedia) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(strings.NewReader(m.payload)), nil
}

type fixture struct {
	engine     *Engine
	store      *store.InMemoryStore
	messenger  *mockMessenger
	calendar   *calendar.MockService
	mailer     *mail.MockSender
	recognizer *fakeRecognizer
	media      *mockMedia
}

func newFixture(t *testing.T, intent models.Intent) *fixture {
	t.Helper()
	f := &fixture{
		store:      store.NewInMemoryStore(),
		messenger:  &mockMessenger{},
		calendar:   calendar.NewMockService(),
		mailer:     mail.NewMockSender(),
		recognizer: &fakeRecognizer{intent: intent, confidence: 0.9},
		media:      &mockMedia{},
	}
	directory := contacts.NewMockDirectory(
		models.Contact{Name: "Alice Johnson", Emails: []string{"alice.johnson@example.com"}, Phones: []string{"+15550001"}},
		models.Contact{Name: "Bob Smith", Emails: []string{"bob@example.com"}},
	)
	engine, err := NewEngine(
		WithStore(f.store),
		WithMessenger(f.messenger),
		WithRecognizer(f.recognizer),
		WithExtractor(nlp.NewExtractor()),
		WithContacts(contacts.NewResolver(directory, f.store)),
		WithCalendar(f.calendar),
		WithMail(f.mailer),
		WithTenders(tender.NewProcessor(f.calendar, f.store)),
		WithMedia(f.media),
		WithLocation(time.UTC),
		WithNow(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	f.engine = engine
	return f
}

// send delivers one message and returns the reply.
func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	if err := f.engine.HandleMessage(context.Background(), testUser, text, nil); err != nil {
		t.Fatalf("HandleMessage(%q) failed: %v", text, err)
	}
	return f.messenger.last()
}

func (f *fixture) sendAttachment(t *testing.T, text string, att *models.Attachment) string {
	t.Helper()
	if err := f.engine.HandleMessage(context.Background(), testUser, text, att); err != nil {
		t.Fatalf("HandleMessage(%q, attachment) failed: %v", text, err)
	}
	return f.messenger.last()
}

func (f *fixture) state(t *testing.T) *models.ConversationState {
	t.Helper()
	state, err := f.store.GetConversationState(testUser)
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	return state
}

func (f *fixture) requireNoState(t *testing.T) {
	t.Helper()
	if state := f.state(t); state != nil {
		t.Fatalf("expected no conversation state, got %+v", state)
	}
}

func TestNewEngineRequiresCoreDeps(t *testing.T) {
	_, err := NewEngine(WithMessenger(&mockMessenger{}))
	if err == nil {
		t.Error("expected error without a store")
	}
	_, err = NewEngine(WithStore(store.NewInMemoryStore()))
	if err == nil {
		t.Error("expected error without a messenger")
	}
}

func TestUnknownIntentSendsCapabilityMenu(t *testing.T) {
	f := newFixture(t, models.IntentUnknown)
	reply := f.send(t, "tell me a joke")
	if !strings.Contains(reply, "I can help with") {
		t.Errorf("expected capability menu, got %q", reply)
	}
	f.requireNoState(t)
}

func TestIdenticalMessageClassifiesIdentically(t *testing.T) {
	f := newFixture(t, models.IntentUnknown)
	first := f.send(t, "tell me a joke")
	second := f.send(t, "tell me a joke")
	if first != second {
		t.Errorf("replies differ:\n%q\n%q", first, second)
	}
}

func TestUnknownStepSurfacesInvalidStep(t *testing.T) {
	f := newFixture(t, models.IntentUnknown)
	state := models.NewConversationState(testUser, models.DialogueEmail, models.Step("bogus"))
	if err := f.store.SaveConversationState(*state); err != nil {
		t.Fatal(err)
	}
	err := f.engine.HandleMessage(context.Background(), testUser, "hello", nil)
	if !errors.Is(err, models.ErrInvalidStep) {
		t.Errorf("expected ErrInvalidStep, got %v", err)
	}
}

func TestCancelClearsAnyDialogue(t *testing.T) {
	f := newFixture(t, models.IntentScheduleMeeting)
	f.send(t, "schedule a meeting")
	if f.state(t) == nil {
		t.Fatal("expected a meeting dialogue to start")
	}
	reply := f.send(t, "cancel")
	if !strings.Contains(reply, "cancelled") {
		t.Errorf("unexpected cancel reply: %q", reply)
	}
	f.requireNoState(t)
	if len(f.calendar.CreatedEvents) != 0 {
		t.Error("cancel must not book anything")
	}
}

func TestSyncContactsCommand(t *testing.T) {
	f := newFixture(t, models.IntentUnknown)
	reply := f.send(t, "sync contacts")
	if !strings.Contains(reply, "Synced 2 contacts") {
		t.Errorf("unexpected sync reply: %q", reply)
	}
	cached, err := f.store.GetContactByName("Bob Smith")
	if err != nil || cached == nil {
		t.Errorf("contact not cached after sync: %+v, %v", cached, err)
	}
}

func TestCheckCalendarListsEvents(t *testing.T) {
	f := newFixture(t, models.IntentCheckCalendar)
	f.calendar.Events = []models.Event{
		{Summary: "Standup", Start: testNow.Add(2 * time.Hour), End: testNow.Add(3 * time.Hour), Location: "Room 4"},
	}
	reply := f.send(t, "what's on my calendar today?")
	for _, want := range []string{"Standup", "14:00 - 15:00", "Room 4"} {
		if !strings.Contains(reply, want) {
			t.Errorf("calendar reply missing %q: %q", want, reply)
		}
	}
	f.requireNoState(t)
}

func TestCheckCalendarEmptyDay(t *testing.T) {
	f := newFixture(t, models.IntentCheckCalendar)
	reply := f.send(t, "what's on my calendar today?")
	if !strings.Contains(reply, "no events") {
		t.Errorf("expected empty-day message, got %q", reply)
	}
}

func TestCheckFreeSlots(t *testing.T) {
	f := newFixture(t, models.IntentCheckFreeSlots)
	f.calendar.Busy = []models.TimeSlot{
		{Start: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)},
	}
	reply := f.send(t, "when am I free today?")
	if strings.Contains(reply, "09:00 - 09:30") {
		t.Errorf("busy slot listed as free: %q", reply)
	}
	if !strings.Contains(reply, "09:30 - 10:00") {
		t.Errorf("expected 09:30 slot in %q", reply)
	}
	f.requireNoState(t)
}

func TestFindContactSingleMatch(t *testing.T) {
	f := newFixture(t, models.IntentFindContact)
	reply := f.send(t, "find contact details for Alice Johnson")
	for _, want := range []string{"Alice Johnson", "alice.johnson@example.com", "+15550001"} {
		if !strings.Contains(reply, want) {
			t.Errorf("contact card missing %q: %q", want, reply)
		}
	}
	f.requireNoState(t)
}

func TestFindContactNotFound(t *testing.T) {
	f := newFixture(t, models.IntentFindContact)
	reply := f.send(t, "find contact details for Zelda Fitzgerald")
	if !strings.Contains(reply, "couldn't find") {
		t.Errorf("expected not-found message, got %q", reply)
	}
}
