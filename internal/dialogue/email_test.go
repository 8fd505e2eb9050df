package dialogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

func TestEmailHappyPath(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)

	reply := f.send(t, "send an email")
	if !strings.Contains(reply, "Who should I send the email to") {
		t.Fatalf("expected recipient prompt, got %q", reply)
	}

	reply = f.send(t, "bob@example.com")
	if !strings.Contains(reply, "What should the subject be") {
		t.Fatalf("expected subject prompt, got %q", reply)
	}

	reply = f.send(t, "Lunch on Friday")
	if !strings.Contains(reply, "What should the email say") {
		t.Fatalf("expected body prompt, got %q", reply)
	}

	reply = f.send(t, "Shall we do noon at the usual place?")
	for _, want := range []string{"To: bob@example.com", "Subject: Lunch on Friday", "Shall I send it? (yes/no)"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("confirmation missing %q: %q", want, reply)
		}
	}

	reply = f.send(t, "yes")
	if !strings.Contains(reply, "Email sent to bob@example.com") {
		t.Fatalf("expected success notice, got %q", reply)
	}
	f.requireNoState(t)

	if len(f.mailer.Sent) != 1 {
		t.Fatalf("expected one send, got %d", len(f.mailer.Sent))
	}
	sent := f.mailer.Sent[0]
	if sent.To != "bob@example.com" || sent.Subject != "Lunch on Friday" {
		t.Errorf("unexpected message: %+v", sent)
	}
}

func TestEmailRecipientTypoSuggestion(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)
	f.send(t, "send an email")

	reply := f.send(t, "john.gamail.com")
	if !strings.Contains(reply, "john@gmail.com") {
		t.Fatalf("expected suggestion, got %q", reply)
	}

	reply = f.send(t, "yes")
	if !strings.Contains(reply, "What should the subject be") {
		t.Fatalf("expected subject prompt after adoption, got %q", reply)
	}
	if got := f.state(t).Slot(models.SlotRecipient); got != "john@gmail.com" {
		t.Errorf("recipient = %q, want john@gmail.com", got)
	}
}

func TestEmailInvalidRecipientReprompts(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)
	f.send(t, "send an email")

	reply := f.send(t, "not an address at all")
	if !strings.Contains(reply, "valid email address") {
		t.Fatalf("expected re-prompt, got %q", reply)
	}
	if got := f.state(t).Step; got != models.StepEmailRecipient {
		t.Errorf("step = %q, should stay on recipient", got)
	}
}

func TestEmailConfirmDeclineCancels(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)
	f.send(t, "send an email")
	f.send(t, "bob@example.com")
	f.send(t, "Subject line")
	f.send(t, "Body text")

	reply := f.send(t, "no")
	if !strings.Contains(reply, "won't send") {
		t.Fatalf("expected decline reply, got %q", reply)
	}
	f.requireNoState(t)
	if len(f.mailer.Sent) != 0 {
		t.Error("decline must not send anything")
	}
}

func TestEmailSendFailureClearsState(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)
	f.mailer.Err = errors.New("gmail down")

	f.send(t, "send an email")
	f.send(t, "bob@example.com")
	f.send(t, "Subject line")
	f.send(t, "Body text")
	reply := f.send(t, "yes")

	if !strings.Contains(reply, "sending the email failed") {
		t.Fatalf("expected named failure message, got %q", reply)
	}
	f.requireNoState(t)
}

func TestEmailPrefilledRecipientSkipsStep(t *testing.T) {
	f := newFixture(t, models.IntentSendEmail)
	reply := f.send(t, "send an email to bob@example.com")
	if !strings.Contains(reply, "What should the subject be") {
		t.Fatalf("expected subject prompt, got %q", reply)
	}
	if got := f.state(t).Slot(models.SlotRecipient); got != "bob@example.com" {
		t.Errorf("recipient = %q, want bob@example.com", got)
	}
}
