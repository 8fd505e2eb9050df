package tender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/store"
)

// Messenger delivers reminder texts; the messaging service implements it.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Notifier sends WhatsApp reminders for tenders whose bidding date has
// arrived. It is meant to run once a day from the scheduler.
type Notifier struct {
	store     store.Store
	messenger Messenger
	loc       *time.Location
	now       func() time.Time
}

// NotifierOpts holds configuration options for the notifier.
type NotifierOpts struct {
	Location *time.Location
	Now      func() time.Time
}

// NotifierOption defines a configuration option for the notifier.
type NotifierOption func(*NotifierOpts)

// WithLocation sets the time zone used to determine the current day.
func WithLocation(loc *time.Location) NotifierOption {
	return func(o *NotifierOpts) { o.Location = loc }
}

// WithNow overrides the clock (for tests).
func WithNow(now func() time.Time) NotifierOption {
	return func(o *NotifierOpts) { o.Now = now }
}

// NewNotifier creates a reminder notifier.
func NewNotifier(st store.Store, messenger Messenger, opts ...NotifierOption) *Notifier {
	var cfg NotifierOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Notifier{store: st, messenger: messenger, loc: cfg.Location, now: cfg.Now}
}

// Run delivers reminders for every tender whose bidding date is today and
// that has not been notified yet. Delivery failures leave the reminder
// unmarked so the next run retries it.
func (n *Notifier) Run(ctx context.Context) {
	now := n.now().In(n.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.loc)

	reminders, err := n.store.ListTenderRemindersDue(today)
	if err != nil {
		slog.Error("Notifier failed to list due reminders", "error", err)
		return
	}
	if len(reminders) == 0 {
		slog.Debug("Notifier found no due reminders", "day", today.Format("2006-01-02"))
		return
	}

	for _, r := range reminders {
		body := fmt.Sprintf("Reminder: bidding for %q is due today (%s).",
			r.TenderName, r.BiddingDate.Format("02 Jan 2006"))
		if err := n.messenger.SendMessage(ctx, r.UserID, body); err != nil {
			slog.Error("Notifier reminder delivery failed", "user", r.UserID, "tender", r.TenderName, "error", err)
			continue
		}
		if err := n.store.MarkTenderReminderNotified(r.ID); err != nil {
			slog.Error("Notifier failed to mark reminder notified", "id", r.ID, "error", err)
		}
	}
	slog.Info("Notifier run complete", "due", len(reminders))
}
