package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/twiliowhatsapp"
)

type handlerCall struct {
	userID     string
	text       string
	attachment *models.Attachment
}

type fakeHandler struct {
	mu       sync.Mutex
	calls    []handlerCall
	block    chan struct{}
	err      error
	panicMsg string
}

func (f *fakeHandler) HandleMessage(ctx context.Context, userID, text string, attachment *models.Attachment) error {
	f.mu.Lock()
	f.calls = append(f.calls, handlerCall{userID: userID, text: text, attachment: attachment})
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.err
}

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newDispatcherFixture() (*Dispatcher, *fakeHandler, *twiliowhatsapp.MockClient) {
	client := twiliowhatsapp.NewMockClient()
	service := NewTwilioService(client)
	handler := &fakeHandler{}
	return NewDispatcher(service, handler), handler, client
}

func TestDispatcherCanonicalizesSender(t *testing.T) {
	d, handler, _ := newDispatcherFixture()

	d.dispatch(context.Background(), models.Response{From: "whatsapp:+14155550100", Body: "hello"})
	d.Wait()

	if handler.callCount() != 1 {
		t.Fatalf("expected 1 handler call, got %d", handler.callCount())
	}
	if got := handler.calls[0].userID; got != "14155550100" {
		t.Errorf("userID = %q, want digits only", got)
	}
	if handler.calls[0].attachment != nil {
		t.Error("no attachment expected")
	}
}

func TestDispatcherForwardsAttachment(t *testing.T) {
	d, handler, _ := newDispatcherFixture()

	d.dispatch(context.Background(), models.Response{
		From:             "whatsapp:+14155550100",
		Body:             "",
		MediaURL:         "https://api.twilio.com/media/1",
		MediaContentType: "text/csv",
	})
	d.Wait()

	att := handler.calls[0].attachment
	if att == nil || att.URL != "https://api.twilio.com/media/1" || att.ContentType != "text/csv" {
		t.Errorf("unexpected attachment: %+v", att)
	}
}

func TestDispatcherBusyNoticeForConcurrentUser(t *testing.T) {
	d, handler, client := newDispatcherFixture()
	handler.block = make(chan struct{})

	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "first"})
	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "second"})

	if handler.callCount() != 1 {
		t.Errorf("second message should not reach the handler while the first is in flight")
	}
	if len(client.SentMessages) != 1 || !strings.Contains(client.SentMessages[0].Body, "still working") {
		t.Errorf("expected busy notice, got %+v", client.SentMessages)
	}

	close(handler.block)
	d.Wait()

	// A later message for the same user processes normally.
	handler.block = nil
	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "third"})
	d.Wait()
	if handler.callCount() != 2 {
		t.Errorf("expected the slot to free up, handler calls = %d", handler.callCount())
	}
}

func TestDispatcherDistinctUsersRunConcurrently(t *testing.T) {
	d, handler, client := newDispatcherFixture()
	handler.block = make(chan struct{})

	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "a"})
	d.dispatch(context.Background(), models.Response{From: "+14155550200", Body: "b"})

	if handler.callCount() != 2 {
		t.Errorf("expected both users handled, got %d calls", handler.callCount())
	}
	if len(client.SentMessages) != 0 {
		t.Errorf("no busy notice expected across users, got %+v", client.SentMessages)
	}
	close(handler.block)
	d.Wait()
}

func TestDispatcherApologizesOnHandlerError(t *testing.T) {
	d, handler, client := newDispatcherFixture()
	handler.err = errors.New("boom")

	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "hello"})
	d.Wait()

	if len(client.SentMessages) != 1 || !strings.Contains(client.SentMessages[0].Body, "something went wrong") {
		t.Errorf("expected apology, got %+v", client.SentMessages)
	}
}

func TestDispatcherRecoversPanic(t *testing.T) {
	d, handler, client := newDispatcherFixture()
	handler.panicMsg = "unexpected"

	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "hello"})
	d.Wait()

	if len(client.SentMessages) != 1 || !strings.Contains(client.SentMessages[0].Body, "something went wrong") {
		t.Errorf("expected apology after panic, got %+v", client.SentMessages)
	}

	// The in-flight slot must be released even after a panic.
	handler.panicMsg = ""
	d.dispatch(context.Background(), models.Response{From: "+14155550100", Body: "again"})
	d.Wait()
	if handler.callCount() != 2 {
		t.Errorf("handler calls = %d, want 2", handler.callCount())
	}
}

func TestDispatcherStartConsumesResponses(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	service := NewTwilioService(client)
	handler := &fakeHandler{}
	d := NewDispatcher(service, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	service.EmitResponse(models.Response{From: "whatsapp:+14155550100", Body: "hello", Time: time.Now().Unix()})

	deadline := time.After(2 * time.Second)
	for handler.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("handler was never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
	d.Wait()
}
