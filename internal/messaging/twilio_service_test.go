package messaging

import (
	"context"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/twiliowhatsapp"
)

// Ensure TwilioService implements Service interface
func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_CanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"+14155550100", "14155550100", false},
		{"whatsapp:+14155550100", "14155550100", false},
		{"(415) 555-0100", "4155550100", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: canonical = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTwilioService_SendMessageEmitsReceipt(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	if err := svc.SendMessage(context.Background(), "+14155550100", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "14155550100" {
		t.Errorf("unexpected sent messages: %+v", client.SentMessages)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt status = %s", receipt.Status)
		}
	default:
		t.Fatal("expected a sent receipt")
	}
}

func TestTwilioService_StoppedServiceRejectsSend(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+14155550100", "hello"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioService_EmitResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	svc.EmitResponse(models.Response{From: "whatsapp:+14155550100", Body: "hi"})

	select {
	case response := <-svc.Responses():
		if response.Body != "hi" {
			t.Errorf("unexpected response: %+v", response)
		}
	default:
		t.Fatal("expected an emitted response")
	}
}
