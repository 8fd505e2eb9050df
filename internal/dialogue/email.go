package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/mail"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/util"
)

// startEmail enters the EMAIL machine, pre-filling slots from the initial
// message and skipping to the first missing step.
func (e *Engine) startEmail(ctx context.Context, t *turn, bag models.EntityBag) error {
	state := models.NewConversationState(t.userID, models.DialogueEmail, models.StepEmailRecipient)

	if len(bag.Emails) > 0 {
		state.SetSlot(models.SlotRecipient, bag.Emails[0])
	}
	if bag.Subject != "" {
		state.SetSlot(models.SlotSubject, bag.Subject)
	}
	if bag.Body != "" {
		state.SetSlot(models.SlotBody, bag.Body)
	}

	step, prompt := e.nextEmailStep(state)
	state.Step = step
	if err := e.saveState(state); err != nil {
		return err
	}
	return e.reply(ctx, t.userID, prompt)
}

// nextEmailStep finds the first unfilled step in the fixed order
// recipient, subject, body, confirm and returns its prompt.
func (e *Engine) nextEmailStep(state *models.ConversationState) (models.Step, string) {
	switch {
	case state.Slot(models.SlotRecipient) == "":
		return models.StepEmailRecipient, "Who should I send the email to? Please give me their email address."
	case state.Slot(models.SlotSubject) == "":
		return models.StepEmailSubject, "What should the subject be?"
	case state.Slot(models.SlotBody) == "":
		return models.StepEmailBody, "What should the email say?"
	default:
		return models.StepEmailConfirm, emailSummary(state)
	}
}

func emailSummary(state *models.ConversationState) string {
	return fmt.Sprintf("Here's your email:\nTo: %s\nSubject: %s\n\n%s\n\nShall I send it? (yes/no)",
		state.Slot(models.SlotRecipient), state.Slot(models.SlotSubject), state.Slot(models.SlotBody))
}

// handleEmailRecipient accepts an email address. A recognizably malformed
// address gets a one-shot suggestion held in SlotSuggestedEmail; while a
// suggestion is pending, an affirmative adopts it and a valid address
// replaces it.
func (e *Engine) handleEmailRecipient(ctx context.Context, t *turn) error {
	state := t.state

	if pending := state.Slot(models.SlotSuggestedEmail); pending != "" && isAffirmative(t.text) {
		return e.adoptEmailRecipient(ctx, t, pending)
	}

	check := util.ValidateEmail(t.text)
	if check.Valid {
		return e.adoptEmailRecipient(ctx, t, t.text)
	}

	if check.Suggestion != "" {
		state.SetSlot(models.SlotSuggestedEmail, check.Suggestion)
		if err := e.saveState(state); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, fmt.Sprintf("%s Did you mean %s? (yes, or type the correct address)",
			check.Reason, check.Suggestion))
	}

	// Re-prompt; a pending suggestion, if any, stays available.
	return e.reply(ctx, t.userID, "That doesn't look like a valid email address. Please try again.")
}

func (e *Engine) adoptEmailRecipient(ctx context.Context, t *turn, address string) error {
	state := t.state
	state.SetSlot(models.SlotRecipient, address)
	delete(state.Slots, models.SlotSuggestedEmail)

	step, prompt := e.nextEmailStep(state)
	state.Step = step
	if err := e.saveState(state); err != nil {
		return err
	}
	return e.reply(ctx, t.userID, prompt)
}

func (e *Engine) handleEmailSubject(ctx context.Context, t *turn) error {
	state := t.state
	state.SetSlot(models.SlotSubject, t.text)

	step, prompt := e.nextEmailStep(state)
	state.Step = step
	if err := e.saveState(state); err != nil {
		return err
	}
	return e.reply(ctx, t.userID, prompt)
}

func (e *Engine) handleEmailBody(ctx context.Context, t *turn) error {
	state := t.state
	state.SetSlot(models.SlotBody, t.text)
	state.Step = models.StepEmailConfirm
	if err := e.saveState(state); err != nil {
		return err
	}
	return e.reply(ctx, t.userID, emailSummary(state))
}

// handleEmailConfirm sends on an affirmative; anything else cancels. The
// state is cleared on every outcome, including send failure.
func (e *Engine) handleEmailConfirm(ctx context.Context, t *turn) error {
	state := t.state

	if !isAffirmative(t.text) {
		if err := e.clearState(t.userID); err != nil {
			return err
		}
		return e.reply(ctx, t.userID, "Okay, I won't send it.")
	}

	recipient := state.Slot(models.SlotRecipient)
	sendErr := e.sendEmail(ctx, mail.Message{
		To:      recipient,
		Subject: state.Slot(models.SlotSubject),
		Body:    state.Slot(models.SlotBody),
	})
	if err := e.clearState(t.userID); err != nil {
		return err
	}
	if sendErr != nil {
		slog.Error("Engine email send failed", "user", t.userID, "error", sendErr)
		return e.reply(ctx, t.userID, "Sorry, sending the email failed. Please try again later.")
	}
	return e.reply(ctx, t.userID, "Email sent to "+recipient+".")
}

func (e *Engine) sendEmail(ctx context.Context, msg mail.Message) error {
	if e.mail == nil {
		return fmt.Errorf("mail sender not configured")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = "(no subject)"
	}
	return e.mail.Send(ctx, msg)
}
