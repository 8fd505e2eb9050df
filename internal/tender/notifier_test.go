package tender

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/store"
)

type recordingMessenger struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{sent: make(map[string][]string)}
}

func (m *recordingMessenger) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent[to] = append(m.sent[to], body)
	return nil
}

func notifierFixture(t *testing.T) (*Notifier, *recordingMessenger, store.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	messenger := newRecordingMessenger()
	now := time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC)
	n := NewNotifier(st, messenger,
		WithLocation(time.UTC),
		WithNow(func() time.Time { return now }),
	)
	return n, messenger, st
}

func TestNotifierSendsDueReminders(t *testing.T) {
	n, messenger, st := notifierFixture(t)

	for _, r := range []models.TenderReminder{
		{UserID: "14155550100", TenderName: "Bridge repair", BiddingDate: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)},
		{UserID: "14155550100", TenderName: "Road works", BiddingDate: time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)},
		{UserID: "14155550200", TenderName: "School roof", BiddingDate: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)},
	} {
		if err := st.SaveTenderReminder(r); err != nil {
			t.Fatalf("SaveTenderReminder failed: %v", err)
		}
	}

	n.Run(context.Background())

	if got := messenger.sent["14155550100"]; len(got) != 1 || !strings.Contains(got[0], "Bridge repair") {
		t.Errorf("unexpected messages for first user: %v", got)
	}
	if got := messenger.sent["14155550200"]; len(got) != 1 || !strings.Contains(got[0], "School roof") {
		t.Errorf("unexpected messages for second user: %v", got)
	}

	// Notified reminders are not re-sent.
	n.Run(context.Background())
	if got := messenger.sent["14155550100"]; len(got) != 1 {
		t.Errorf("reminder was re-sent: %v", got)
	}
}

func TestNotifierRetriesOnDeliveryFailure(t *testing.T) {
	n, messenger, st := notifierFixture(t)

	err := st.SaveTenderReminder(models.TenderReminder{
		UserID:      "14155550100",
		TenderName:  "Bridge repair",
		BiddingDate: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("SaveTenderReminder failed: %v", err)
	}

	messenger.err = errors.New("delivery failed")
	n.Run(context.Background())
	if len(messenger.sent["14155550100"]) != 0 {
		t.Fatal("no message should have been recorded")
	}

	// The reminder stays unmarked, so the next run delivers it.
	messenger.err = nil
	n.Run(context.Background())
	if got := messenger.sent["14155550100"]; len(got) != 1 {
		t.Errorf("expected one delivery after retry, got %v", got)
	}
}

func TestNotifierNoDueReminders(t *testing.T) {
	n, messenger, _ := notifierFixture(t)
	n.Run(context.Background())
	if len(messenger.sent) != 0 {
		t.Errorf("no messages expected, got %v", messenger.sent)
	}
}
