package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/mail"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/util"
)

// startMeeting enters the MEETING machine. Entities supplied up front fill
// their slots and the dialogue skips to the first missing step in the fixed
// order person, date, time, confirm.
func (e *Engine) startMeeting(ctx context.Context, t *turn, bag models.EntityBag) error {
	state := models.NewConversationState(t.userID, models.DialogueMeeting, models.StepMeetingPerson)

	if len(bag.Emails) > 0 {
		state.SetSlot(models.SlotPerson, bag.Emails[0])
		state.SetSlot(models.SlotPersonEmail, bag.Emails[0])
	} else if len(bag.Persons) > 0 {
		if contact := e.lookupContact(ctx, bag.Persons[0]); contact != nil && contact.PrimaryEmail() != "" {
			state.SetSlot(models.SlotPerson, contact.Name)
			state.SetSlot(models.SlotPersonEmail, contact.PrimaryEmail())
		}
	}
	if bag.Date != "" {
		if day, err := e.parseSlotDate(bag.Date); err == nil && !day.Before(e.today()) {
			state.SetSlot(models.SlotDate, bag.Date)
		}
	}
	if bag.Time != "" && state.Slot(models.SlotDate) != "" {
		if at, err := e.combineDateTime(state.Slot(models.SlotDate), bag.Time); err == nil && at.After(e.now().In(e.loc)) {
			state.SetSlot(models.SlotTime, bag.Time)
		}
	}
	if bag.Duration > 0 {
		state.SetSlot(models.SlotDuration, strconv.Itoa(bag.Duration))
	}

	switch {
	case state.Slot(models.SlotPersonEmail) == "":
		state.Step = models.StepMeetingPerson
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "Who is the meeting with? Give me a name or an email address.")
	case state.Slot(models.SlotDate) == "":
		state.Step = models.StepMeetingDate
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "What date should the meeting be? (e.g. tomorrow, or 15/07/2024)")
	case state.Slot(models.SlotTime) == "":
		state.Step = models.StepMeetingTime
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "What time? (e.g. 15:00 or 3pm)")
	default:
		return e.enterMeetingConfirm(ctx, t, state)
	}
}

// lookupContact resolves a name, tolerating a missing resolver.
func (e *Engine) lookupContact(ctx context.Context, name string) *models.Contact {
	if e.contacts == nil {
		return nil
	}
	contact, err := e.contacts.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrContactNotFound) {
			slog.Debug("Engine contact not found", "name", name)
		} else {
			slog.Warn("Engine contact lookup failed", "name", name, "error", err)
		}
		return nil
	}
	return contact
}

// handleMeetingPerson accepts a name or an email address. A recognizably
// malformed address moves to the confirm-email sub-step with a suggestion.
func (e *Engine) handleMeetingPerson(ctx context.Context, t *turn) error {
	state := t.state

	if looksLikeEmailAttempt(t.text) {
		check := util.ValidateEmail(t.text)
		switch {
		case check.Valid:
			state.SetSlot(models.SlotPerson, t.text)
			state.SetSlot(models.SlotPersonEmail, t.text)
			return e.advanceMeeting(ctx, t, state)
		case check.Suggestion != "":
			state.SetSlot(models.SlotSuggestedEmail, check.Suggestion)
			state.Step = models.StepMeetingConfirmEmail
			if err := e.saveState(state); err != nil {
				return err
			}
			return e.reply(ctx, t.userID, fmt.Sprintf("%s Did you mean %s? (yes, or type the correct address)",
				check.Reason, check.Suggestion))
		default:
			return e.reply(ctx, t.userID, "That doesn't look like a valid email address. Please try again.")
		}
	}

	contact := e.lookupContact(ctx, t.text)
	if contact == nil || contact.PrimaryEmail() == "" {
		return e.reply(ctx, t.userID, fmt.Sprintf(
			"I couldn't find %q in your contacts. Please give me their email address.", t.text))
	}
	state.SetSlot(models.SlotPerson, contact.Name)
	state.SetSlot(models.SlotPersonEmail, contact.PrimaryEmail())
	return e.advanceMeeting(ctx, t, state)
}

// handleMeetingConfirmEmail resolves a pending typo suggestion: affirmative
// adopts it, a valid address replaces it, anything else re-prompts with the
// suggestion still pending.
func (e *Engine) handleMeetingConfirmEmail(ctx context.Context, t *turn) error {
	state := t.state
	suggestion := state.Slot(models.SlotSuggestedEmail)

	var adopted string
	switch {
	case isAffirmative(t.text) && suggestion != "":
		adopted = suggestion
	case util.ValidateEmail(t.text).Valid:
		adopted = t.text
	default:
		return e.reply(ctx, t.userID, fmt.Sprintf(
			"Please reply yes to use %s, or type the correct email address.", suggestion))
	}

	state.SetSlot(models.SlotPerson, adopted)
	state.SetSlot(models.SlotPersonEmail, adopted)
	delete(state.Slots, models.SlotSuggestedEmail)
	return e.advanceMeeting(ctx, t, state)
}

// advanceMeeting moves to the first missing step after the person is known.
func (e *Engine) advanceMeeting(ctx context.Context, t *turn, state *models.ConversationState) error {
	switch {
	case state.Slot(models.SlotDate) == "":
		state.Step = models.StepMeetingDate
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "What date should the meeting be? (e.g. tomorrow, or 15/07/2024)")
	case state.Slot(models.SlotTime) == "":
		state.Step = models.StepMeetingTime
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "What time? (e.g. 15:00 or 3pm)")
	default:
		return e.enterMeetingConfirm(ctx, t, state)
	}
}

// handleMeetingDate validates the date and rejects days before today.
func (e *Engine) handleMeetingDate(ctx context.Context, t *turn) error {
	state := t.state
	bag := e.extractor.Extract(t.text, models.IntentScheduleMeeting, e.now().In(e.loc))
	if bag.Date == "" {
		return e.reply(ctx, t.userID, "I couldn't understand that date. Try something like tomorrow or 15/07/2024.")
	}
	day, err := e.parseSlotDate(bag.Date)
	if err != nil {
		return e.reply(ctx, t.userID, "I couldn't understand that date. Try something like tomorrow or 15/07/2024.")
	}
	if day.Before(e.today()) {
		return e.reply(ctx, t.userID, "That date is in the past. Please give me a future date.")
	}
	state.SetSlot(models.SlotDate, bag.Date)
	return e.advanceMeeting(ctx, t, state)
}

// handleMeetingTime validates the time; a date+time instant in the past is
// rejected and the step stays on TIME.
func (e *Engine) handleMeetingTime(ctx context.Context, t *turn) error {
	state := t.state
	bag := e.extractor.Extract(t.text, models.IntentScheduleMeeting, e.now().In(e.loc))
	if bag.Time == "" {
		return e.reply(ctx, t.userID, "I couldn't understand that time. Try something like 15:00 or 3pm.")
	}
	at, err := e.combineDateTime(state.Slot(models.SlotDate), bag.Time)
	if err != nil {
		return e.reply(ctx, t.userID, "I couldn't understand that time. Try something like 15:00 or 3pm.")
	}
	if !at.After(e.now().In(e.loc)) {
		return e.reply(ctx, t.userID, "That time has already passed. Please give me a future time.")
	}
	state.SetSlot(models.SlotTime, bag.Time)
	return e.enterMeetingConfirm(ctx, t, state)
}

// meetingDuration returns the requested duration, defaulting to 30 minutes.
func meetingDuration(state *models.ConversationState) time.Duration {
	if minutes, err := strconv.Atoi(state.Slot(models.SlotDuration)); err == nil && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return calendar.DefaultSlotDuration
}

// enterMeetingConfirm checks the requested interval for conflicts. A busy
// interval triggers a numbered list of up to 5 alternatives from the wider
// working window; a fully booked day re-prompts for the date.
func (e *Engine) enterMeetingConfirm(ctx context.Context, t *turn, state *models.ConversationState) error {
	if e.calendar == nil {
		if err := e.clearState(t.userID); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "Sorry, the calendar isn't available right now. Please try again later.")
	}

	start, err := e.combineDateTime(state.Slot(models.SlotDate), state.Slot(models.SlotTime))
	if err != nil {
		return fmt.Errorf("%w: bad date/time slots", models.ErrInvalidStep)
	}
	duration := meetingDuration(state)
	requested := models.TimeSlot{Start: start, End: start.Add(duration)}

	conflict, err := calendar.HasConflict(ctx, e.calendar, requested)
	if err != nil {
		slog.Error("Engine conflict check failed", "user", t.userID, "error", err)
		if clearErr := e.clearState(t.userID); clearErr != nil {
			return clearErr
		}
		return e.reply(ctx, t.userID, "Sorry, checking the calendar failed. Please try again later.")
	}

	if !conflict {
		state.Step = models.StepMeetingConfirm
		state.AlternativeSlots = nil
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, fmt.Sprintf(
			"Meeting with %s on %s at %s for %d minutes. Is that correct? (yes/no)",
			state.Slot(models.SlotPerson), state.Slot(models.SlotDate), state.Slot(models.SlotTime),
			int(duration.Minutes())))
	}

	free, err := calendar.FreeSlots(ctx, e.calendar, start,
		calendar.ConflictStartHour, calendar.ConflictEndHour, duration)
	if err != nil {
		slog.Error("Engine free-slot search failed", "user", t.userID, "error", err)
		if clearErr := e.clearState(t.userID); clearErr != nil {
			return clearErr
		}
		return e.reply(ctx, t.userID, "Sorry, checking the calendar failed. Please try again later.")
	}

	// A same-day request can produce slots earlier than the current time.
	now := e.now().In(e.loc)
	kept := free[:0]
	for _, slot := range free {
		if slot.Start.Before(now) {
			continue
		}
		kept = append(kept, slot)
	}
	free = kept

	if len(free) == 0 {
		delete(state.Slots, models.SlotDate)
		delete(state.Slots, models.SlotTime)
		state.Step = models.StepMeetingDate
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID,
			"That day is fully booked for the requested duration. Please give me another date.")
	}

	if len(free) > calendar.MaxAlternatives {
		free = free[:calendar.MaxAlternatives]
	}
	state.AlternativeSlots = free
	state.Step = models.StepMeetingConfirm
	if err := e.saveState(state); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s is already booked. Here are some free alternatives:",
		state.Slot(models.SlotTime), state.Slot(models.SlotDate))
	for i, slot := range free {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1,
			slot.Start.Format(models.SlotTimeFormat), slot.End.Format(models.SlotTimeFormat))
	}
	b.WriteString("\nReply with a number to pick one, or no to cancel.")
	return e.reply(ctx, t.userID, b.String())
}

// handleMeetingConfirm books on an affirmative, or on a 1-based index into
// the most recently offered alternatives. Anything else cancels.
func (e *Engine) handleMeetingConfirm(ctx context.Context, t *turn) error {
	state := t.state

	if n, err := strconv.Atoi(strings.TrimSpace(t.text)); err == nil && len(state.AlternativeSlots) > 0 {
		if n < 1 || n > len(state.AlternativeSlots) {
			return e.reply(ctx, t.userID, fmt.Sprintf(
				"Please pick a number between 1 and %d, or no to cancel.", len(state.AlternativeSlots)))
		}
		return e.bookMeeting(ctx, t, state, state.AlternativeSlots[n-1])
	}

	if isAffirmative(t.text) {
		if len(state.AlternativeSlots) > 0 {
			return e.reply(ctx, t.userID, fmt.Sprintf(
				"Please pick a number between 1 and %d, or no to cancel.", len(state.AlternativeSlots)))
		}
		start, err := e.combineDateTime(state.Slot(models.SlotDate), state.Slot(models.SlotTime))
		if err != nil {
			return fmt.Errorf("%w: bad date/time slots", models.ErrInvalidStep)
		}
		return e.bookMeeting(ctx, t, state, models.TimeSlot{Start: start, End: start.Add(meetingDuration(state))})
	}

	if err := e.clearState(t.userID); err != nil {
		return err
	}
	return e.reply(ctx, t.userID, "Okay, I won't book it.")
}

// bookMeeting performs the terminal action. State is cleared on every
// outcome, including booking failure.
func (e *Engine) bookMeeting(ctx context.Context, t *turn, state *models.ConversationState, slot models.TimeSlot) error {
	person := state.Slot(models.SlotPerson)
	email := state.Slot(models.SlotPersonEmail)

	event, bookErr := e.calendar.CreateEvent(ctx, calendar.CreateEventParams{
		Summary:   "Meeting with " + person,
		Start:     slot.Start,
		End:       slot.End,
		Attendees: []string{email},
		WithMeet:  true,
	})
	if err := e.clearState(t.userID); err != nil {
		return err
	}
	if bookErr != nil {
		slog.Error("Engine meeting booking failed", "user", t.userID, "error", bookErr)
		return e.reply(ctx, t.userID, "Sorry, booking the meeting failed. Please try again later.")
	}

	e.sendMeetingInvitation(ctx, person, email, event)

	var b strings.Builder
	fmt.Fprintf(&b, "Booked! Meeting with %s on %s from %s to %s.", person,
		slot.Start.Format(models.SlotDateFormat),
		slot.Start.Format(models.SlotTimeFormat), slot.End.Format(models.SlotTimeFormat))
	if event.MeetLink != "" {
		b.WriteString("\nMeet link: " + event.MeetLink)
	}
	if event.HTMLLink != "" {
		b.WriteString("\nCalendar: " + event.HTMLLink)
	}
	return e.reply(ctx, t.userID, b.String())
}

// sendMeetingInvitation emails the attendee after a successful booking.
// Failures are logged, not surfaced.
func (e *Engine) sendMeetingInvitation(ctx context.Context, person, email string, event *models.Event) {
	if e.mail == nil || email == "" {
		return
	}
	msg := mail.MeetingInvitation(person, *event)
	msg.To = email
	if err := e.mail.Send(ctx, msg); err != nil {
		slog.Warn("Engine invitation email failed", "to", email, "error", err)
	}
}

// looksLikeEmailAttempt reports whether the text is plausibly a (possibly
// malformed) email address rather than a person's name.
func looksLikeEmailAttempt(text string) bool {
	if strings.ContainsAny(text, " \t") {
		return false
	}
	return strings.Contains(text, "@") || strings.Contains(text, ".")
}
