package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/models"
)

// queryDay resolves the date an availability or calendar query refers to,
// defaulting to today.
func (e *Engine) queryDay(bag models.EntityBag) time.Time {
	if bag.Date != "" {
		if day, err := e.parseSlotDate(bag.Date); err == nil {
			return day
		}
	}
	return e.today()
}

// checkCalendar lists the day's events.
func (e *Engine) checkCalendar(ctx context.Context, t *turn, bag models.EntityBag) error {
	if e.calendar == nil {
		return e.reply(ctx, t.userID, "Sorry, the calendar isn't available right now.")
	}
	day := e.queryDay(bag)
	events, err := e.calendar.ListEvents(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		slog.Error("Engine calendar listing failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID, "Sorry, checking the calendar failed. Please try again later.")
	}

	label := day.Format("Monday, 02 Jan")
	if len(events) == 0 {
		return e.reply(ctx, t.userID, "You have no events on "+label+".")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your schedule for %s:", label)
	for _, ev := range events {
		if ev.AllDay {
			fmt.Fprintf(&b, "\n• all day: %s", ev.Summary)
		} else {
			fmt.Fprintf(&b, "\n• %s - %s: %s",
				ev.Start.In(e.loc).Format(models.SlotTimeFormat),
				ev.End.In(e.loc).Format(models.SlotTimeFormat), ev.Summary)
		}
		if ev.Location != "" {
			fmt.Fprintf(&b, " (%s)", ev.Location)
		}
	}
	return e.reply(ctx, t.userID, b.String())
}

// checkFreeSlots lists free 30-minute slots in the 09:00-17:00 window.
func (e *Engine) checkFreeSlots(ctx context.Context, t *turn, bag models.EntityBag) error {
	if e.calendar == nil {
		return e.reply(ctx, t.userID, "Sorry, the calendar isn't available right now.")
	}
	day := e.queryDay(bag)
	duration := calendar.DefaultSlotDuration
	if bag.Duration > 0 {
		duration = time.Duration(bag.Duration) * time.Minute
	}

	free, err := calendar.FreeSlots(ctx, e.calendar, day,
		calendar.ListingStartHour, calendar.ListingEndHour, duration)
	if err != nil {
		slog.Error("Engine free-slot listing failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID, "Sorry, checking the calendar failed. Please try again later.")
	}

	label := day.Format("Monday, 02 Jan")
	if len(free) == 0 {
		return e.reply(ctx, t.userID, "No free slots on "+label+" between 09:00 and 17:00.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Free slots on %s:", label)
	for _, slot := range free {
		fmt.Fprintf(&b, "\n• %s - %s",
			slot.Start.Format(models.SlotTimeFormat), slot.End.Format(models.SlotTimeFormat))
	}
	return e.reply(ctx, t.userID, b.String())
}

// findContact searches the directory and renders a detail card for a single
// match or a numbered list for several.
func (e *Engine) findContact(ctx context.Context, t *turn, bag models.EntityBag) error {
	if e.contacts == nil {
		return e.reply(ctx, t.userID, "Sorry, contact lookup isn't available right now.")
	}
	if len(bag.Persons) == 0 {
		return e.reply(ctx, t.userID, "Whose contact details do you need?")
	}
	name := bag.Persons[0]

	matches, err := e.contacts.Search(ctx, name, 5)
	if err != nil {
		slog.Error("Engine contact search failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID, "Sorry, looking up contacts failed. Please try again later.")
	}

	switch len(matches) {
	case 0:
		return e.reply(ctx, t.userID, fmt.Sprintf("I couldn't find anyone matching %q.", name))
	case 1:
		return e.reply(ctx, t.userID, contactCard(matches[0]))
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "I found %d matches for %q:", len(matches), name)
		for i, c := range matches {
			fmt.Fprintf(&b, "\n%d. %s", i+1, c.Name)
			if email := c.PrimaryEmail(); email != "" {
				fmt.Fprintf(&b, " <%s>", email)
			}
		}
		return e.reply(ctx, t.userID, b.String())
	}
}

func contactCard(c models.Contact) string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, email := range c.Emails {
		b.WriteString("\nEmail: " + email)
	}
	for _, phone := range c.Phones {
		b.WriteString("\nPhone: " + phone)
	}
	if c.Organization != "" {
		b.WriteString("\nOrganization: " + c.Organization)
	}
	return b.String()
}

// syncContacts pulls the directory into the local cache.
func (e *Engine) syncContacts(ctx context.Context, t *turn) error {
	if e.contacts == nil {
		return e.reply(ctx, t.userID, "Sorry, contact sync isn't available right now.")
	}
	count, err := e.contacts.Sync(ctx)
	if err != nil {
		slog.Error("Engine contact sync failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID, "Sorry, syncing contacts failed. Please try again later.")
	}
	return e.reply(ctx, t.userID, fmt.Sprintf("Synced %d contacts.", count))
}
