package twiliowhatsapp

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); !errors.Is(err, models.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials without credentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); !errors.Is(err, models.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials without a from number, got %v", err)
	}
}

func TestNewClientFromOptions(t *testing.T) {
	client, err := NewClient(
		WithAccountSID("AC123"),
		WithAuthToken("token"),
		WithFromWhats("whatsapp:+14155550100"),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.fromWhats != "whatsapp:+14155550100" {
		t.Errorf("fromWhats = %q", client.fromWhats)
	}
}

func TestMockClientRecordsMessages(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+14155550100", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(m.SentMessages) != 1 || m.SentMessages[0].Body != "hello" {
		t.Errorf("unexpected sent messages: %+v", m.SentMessages)
	}
}

func TestMockClientServesMedia(t *testing.T) {
	m := NewMockClient()
	m.Media["https://example.com/file.csv"] = "a,b,c"

	body, err := m.DownloadMedia(context.Background(), "https://example.com/file.csv")
	if err != nil {
		t.Fatalf("DownloadMedia failed: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "a,b,c" {
		t.Errorf("payload = %q", data)
	}

	if _, err := m.DownloadMedia(context.Background(), "https://example.com/missing"); err == nil {
		t.Error("expected error for unknown media URL")
	}
}
