package util

import "testing"

func TestValidateEmailAcceptsWellFormedAddresses(t *testing.T) {
	for _, email := range []string{
		"alice@example.com",
		"john.doe@company.co.uk",
		"a_b+tag@sub.domain.org",
	} {
		if check := ValidateEmail(email); !check.Valid {
			t.Errorf("ValidateEmail(%q) = invalid (%s), want valid", email, check.Reason)
		}
	}
}

func TestValidateEmailSuggestions(t *testing.T) {
	tests := []struct {
		email      string
		suggestion string
	}{
		{"john.gamail.com", "john@gmail.com"},
		{"jane.gmaill.com", "jane@gmail.com"},
		{"bob.yahoo.com", "bob@yahoo.com"},
		{"carol.hotmail.com", "carol@hotmail.com"},
		{"dave@gmail", "dave@gmail.com"},
		{"erin@company", "erin@company.com"},
		{"frank@mail,example.com", "frank@mail.example.com"},
		{"grace@gamail.com", "grace@gmail.com"},
		{"henry@gmal.com", "henry@gmail.com"},
	}
	for _, tt := range tests {
		check := ValidateEmail(tt.email)
		if check.Valid {
			t.Errorf("ValidateEmail(%q) = valid, want invalid", tt.email)
			continue
		}
		if check.Suggestion != tt.suggestion {
			t.Errorf("ValidateEmail(%q) suggestion = %q, want %q", tt.email, check.Suggestion, tt.suggestion)
		}
	}
}

func TestValidateEmailNoSuggestionForGarbage(t *testing.T) {
	check := ValidateEmail("not-an-email")
	if check.Valid {
		t.Fatal("expected invalid")
	}
	if check.Suggestion != "" {
		t.Errorf("unexpected suggestion %q", check.Suggestion)
	}
}
