package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

func TestBuildRFC2822PlainText(t *testing.T) {
	raw := BuildRFC2822("assistant@example.com", Message{
		To:      "alice@example.com",
		Subject: "Quarterly Report",
		Body:    "Please find the update below.",
	})
	for _, want := range []string{
		"From: assistant@example.com\r\n",
		"To: alice@example.com\r\n",
		"Subject: Quarterly Report\r\n",
		"Content-Type: text/plain; charset=\"UTF-8\"\r\n",
		"\r\n\r\nPlease find the update below.",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestBuildRFC2822StripsHeaderNewlines(t *testing.T) {
	raw := BuildRFC2822("", Message{
		To:      "alice@example.com",
		Subject: "hello\r\nBcc: attacker@example.com",
		Body:    "body",
	})
	if strings.Contains(raw, "Bcc:") {
		t.Errorf("injected header survived:\n%s", raw)
	}
}

func TestMeetingInvitationBody(t *testing.T) {
	event := models.Event{
		Summary:  "Planning",
		Start:    time.Date(2024, 6, 11, 15, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 6, 11, 15, 30, 0, 0, time.UTC),
		MeetLink: "https://meet.google.com/abc-defg-hij",
	}
	msg := MeetingInvitation("Alice", event)
	if !msg.HTML {
		t.Error("invitation should be HTML")
	}
	if msg.Subject != "Meeting: Planning" {
		t.Errorf("subject = %q", msg.Subject)
	}
	for _, want := range []string{"Hi Alice", "Planning", "15:00", "15:30", event.MeetLink} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestMockSenderRecordsMessages(t *testing.T) {
	m := NewMockSender()
	if err := m.Send(context.Background(), Message{To: "a@b.com", Body: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(m.Sent) != 1 || m.Sent[0].To != "a@b.com" {
		t.Errorf("unexpected sent messages: %+v", m.Sent)
	}

	m.Err = errors.New("smtp down")
	if err := m.Send(context.Background(), Message{To: "a@b.com", Body: "hi"}); err == nil {
		t.Error("expected configured error")
	}
	if len(m.Sent) != 1 {
		t.Errorf("failed send should not be recorded, got %d", len(m.Sent))
	}
}
