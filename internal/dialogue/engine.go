// Package dialogue implements the conversation engine: per-intent state
// machines that consume one inbound message at a time, collect missing slots
// through clarifying questions, and invoke the terminal action once enough
// information exists.
//
// Each inbound message produces exactly one outbound reply. Handlers are
// registered in a dispatch table keyed by (dialogue type, step); an unknown
// pair is a programming error surfaced as models.ErrInvalidStep.
package dialogue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/contacts"
	"github.com/BTreeMap/AssistPipe/internal/mail"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/store"
	"github.com/BTreeMap/AssistPipe/internal/tender"
)

// Messenger sends the engine's outbound replies.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// MediaFetcher downloads inbound attachments referenced by a webhook delivery.
type MediaFetcher interface {
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error)
}

// recognizer and extractor are consumed as narrow interfaces so tests can
// drive the engine with canned classifications.
type recognizer interface {
	Recognize(ctx context.Context, message string) (models.Intent, float64)
}

type extractor interface {
	Extract(message string, intent models.Intent, now time.Time) models.EntityBag
}

var cancelWords = map[string]bool{
	"cancel": true, "stop": true, "quit": true, "exit": true,
	"nevermind": true, "never mind": true,
}

var affirmativeWords = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "yup": true,
	"ok": true, "okay": true, "sure": true, "confirm": true, "correct": true,
}

var syncCommands = map[string]bool{
	"sync contacts": true, "update contacts": true, "refresh contacts": true,
}

// turn carries one inbound message through its handler.
type turn struct {
	userID     string
	text       string
	attachment *models.Attachment
	state      *models.ConversationState
}

type handlerFunc func(ctx context.Context, t *turn) error

// Engine drives the multi-turn dialogues.
type Engine struct {
	store      store.Store
	messenger  Messenger
	recognizer recognizer
	extractor  extractor
	contacts   *contacts.Resolver
	calendar   calendar.Service
	mail       mail.Sender
	tenders    *tender.Processor
	media      MediaFetcher
	loc        *time.Location
	now        func() time.Time

	handlers map[models.DialogueType]map[models.Step]handlerFunc
}

// Opts holds configuration options for the dialogue engine.
type Opts struct {
	Store      store.Store
	Messenger  Messenger
	Recognizer recognizer
	Extractor  extractor
	Contacts   *contacts.Resolver
	Calendar   calendar.Service
	Mail       mail.Sender
	Tenders    *tender.Processor
	Media      MediaFetcher
	Location   *time.Location
	Now        func() time.Time
}

// Option defines a configuration option for the dialogue engine.
type Option func(*Opts)

// WithStore sets the conversation state store.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithMessenger sets the outbound reply sender.
func WithMessenger(m Messenger) Option {
	return func(o *Opts) { o.Messenger = m }
}

// WithRecognizer sets the intent classifier.
func WithRecognizer(r recognizer) Option {
	return func(o *Opts) { o.Recognizer = r }
}

// WithExtractor sets the entity extractor.
func WithExtractor(e extractor) Option {
	return func(o *Opts) { o.Extractor = e }
}

// WithContacts sets the contact resolver.
func WithContacts(r *contacts.Resolver) Option {
	return func(o *Opts) { o.Contacts = r }
}

// WithCalendar sets the calendar service.
func WithCalendar(svc calendar.Service) Option {
	return func(o *Opts) { o.Calendar = svc }
}

// WithMail sets the outgoing mail sender.
func WithMail(s mail.Sender) Option {
	return func(o *Opts) { o.Mail = s }
}

// WithTenders sets the tender file processor.
func WithTenders(p *tender.Processor) Option {
	return func(o *Opts) { o.Tenders = p }
}

// WithMedia sets the attachment downloader.
func WithMedia(f MediaFetcher) Option {
	return func(o *Opts) { o.Media = f }
}

// WithLocation sets the timezone used to interpret dates and times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithNow overrides the clock (for tests).
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewEngine creates a dialogue engine. Store, messenger, recognizer and
// extractor are required; action collaborators may be nil and the matching
// intents will report themselves unavailable.
func NewEngine(opts ...Option) (*Engine, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("messenger must be provided")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer must be provided")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor must be provided")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		store:      cfg.Store,
		messenger:  cfg.Messenger,
		recognizer: cfg.Recognizer,
		extractor:  cfg.Extractor,
		contacts:   cfg.Contacts,
		calendar:   cfg.Calendar,
		mail:       cfg.Mail,
		tenders:    cfg.Tenders,
		media:      cfg.Media,
		loc:        cfg.Location,
		now:        cfg.Now,
	}
	e.handlers = map[models.DialogueType]map[models.Step]handlerFunc{
		models.DialogueEmail: {
			models.StepEmailRecipient: e.handleEmailRecipient,
			models.StepEmailSubject:   e.handleEmailSubject,
			models.StepEmailBody:      e.handleEmailBody,
			models.StepEmailConfirm:   e.handleEmailConfirm,
		},
		models.DialogueMeeting: {
			models.StepMeetingPerson:       e.handleMeetingPerson,
			models.StepMeetingConfirmEmail: e.handleMeetingConfirmEmail,
			models.StepMeetingDate:         e.handleMeetingDate,
			models.StepMeetingTime:         e.handleMeetingTime,
			models.StepMeetingConfirm:      e.handleMeetingConfirm,
		},
		models.DialogueTender: {
			models.StepTenderAwaitingFile: e.handleTenderAwaitingFile,
		},
	}
	return e, nil
}

// HandleMessage is the single entry point the transport layer calls per
// delivery. It advances an existing dialogue or starts a new one and always
// sends exactly one reply on the success path. A returned error means no
// reply was sent; the dispatcher owns the apology.
func (e *Engine) HandleMessage(ctx context.Context, userID, text string, attachment *models.Attachment) error {
	state, err := e.store.GetConversationState(userID)
	if err != nil {
		return fmt.Errorf("load conversation state: %w", err)
	}

	t := &turn{userID: userID, text: strings.TrimSpace(text), attachment: attachment, state: state}

	if state != nil {
		if isCancel(t.text) {
			if err := e.store.DeleteConversationState(userID); err != nil {
				return fmt.Errorf("clear conversation state: %w", err)
			}
			return e.reply(ctx, userID, "Okay, I've cancelled that. What else can I help with?")
		}
		handler, ok := e.handlers[state.Type][state.Step]
		if !ok {
			return fmt.Errorf("%w: %s/%s", models.ErrInvalidStep, state.Type, state.Step)
		}
		slog.Debug("Engine continuing dialogue", "user", userID, "type", state.Type, "step", state.Step)
		return handler(ctx, t)
	}

	return e.startNewDialogue(ctx, t)
}

// startNewDialogue classifies the message and enters the matching machine.
func (e *Engine) startNewDialogue(ctx context.Context, t *turn) error {
	if syncCommands[strings.ToLower(t.text)] {
		return e.syncContacts(ctx, t)
	}
	if t.attachment != nil && t.text == "" {
		// A bare attachment with no active dialogue is treated as a tender
		// upload, the only file-based feature.
		return e.startTender(ctx, t, models.EntityBag{})
	}

	intent, confidence := e.recognizer.Recognize(ctx, t.text)
	slog.Debug("Engine recognized intent", "user", t.userID, "intent", intent, "confidence", confidence)
	bag := e.extractor.Extract(t.text, intent, e.now().In(e.loc))

	switch intent {
	case models.IntentSendEmail:
		return e.startEmail(ctx, t, bag)
	case models.IntentScheduleMeeting:
		return e.startMeeting(ctx, t, bag)
	case models.IntentProcessTenders:
		return e.startTender(ctx, t, bag)
	case models.IntentCheckCalendar:
		return e.checkCalendar(ctx, t, bag)
	case models.IntentCheckFreeSlots:
		return e.checkFreeSlots(ctx, t, bag)
	case models.IntentFindContact:
		return e.findContact(ctx, t, bag)
	default:
		return e.reply(ctx, t.userID, capabilityMenu)
	}
}

const capabilityMenu = "I'm not sure what you need. I can help with:\n" +
	"• Sending an email (\"send an email to Alice\")\n" +
	"• Scheduling a meeting (\"schedule a meeting with Bob tomorrow\")\n" +
	"• Checking your calendar (\"what's on my calendar today?\")\n" +
	"• Finding free slots (\"when am I free tomorrow?\")\n" +
	"• Looking up a contact (\"find contact details for Carol\")\n" +
	"• Processing tender files (send me a CSV)"

func (e *Engine) reply(ctx context.Context, userID, body string) error {
	if err := e.messenger.SendMessage(ctx, userID, body); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// saveState persists the state with a fresh UpdatedAt.
func (e *Engine) saveState(state *models.ConversationState) error {
	state.UpdatedAt = e.now()
	if err := e.store.SaveConversationState(*state); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	return nil
}

// clearState removes the dialogue; used on completion, cancellation and
// terminal errors.
func (e *Engine) clearState(userID string) error {
	if err := e.store.DeleteConversationState(userID); err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}

func isCancel(text string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(text))]
}

func isAffirmative(text string) bool {
	return affirmativeWords[strings.ToLower(strings.TrimSpace(text))]
}

// today returns midnight of the current day in the engine's timezone.
func (e *Engine) today() time.Time {
	now := e.now().In(e.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
}

// parseSlotDate interprets a stored date slot in the engine's timezone.
func (e *Engine) parseSlotDate(value string) (time.Time, error) {
	return time.ParseInLocation(models.SlotDateFormat, value, e.loc)
}

// combineDateTime builds the instant for stored date and time slots.
func (e *Engine) combineDateTime(dateValue, timeValue string) (time.Time, error) {
	return time.ParseInLocation(models.SlotDateFormat+" "+models.SlotTimeFormat, dateValue+" "+timeValue, e.loc)
}
