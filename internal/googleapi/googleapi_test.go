package googleapi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

func TestNewClientRequiresCredentialsFile(t *testing.T) {
	_, err := NewClient(WithScopes("https://www.googleapis.com/auth/calendar"))
	if !errors.Is(err, models.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestNewClientRequiresScopes(t *testing.T) {
	if _, err := NewClient(WithCredentialsFile("key.json")); err == nil {
		t.Error("expected error without scopes")
	}
}

func TestNewClientRejectsNonServiceAccountKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewClient(WithCredentialsFile(path), WithScopes("https://www.googleapis.com/auth/calendar"))
	if err == nil {
		t.Error("expected error for non service account key")
	}
}
