package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

type fakeLLM struct {
	raw string
	err error
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.raw, f.err
}

func TestRecognizeRuleBased(t *testing.T) {
	r := NewRecognizer()
	tests := []struct {
		message string
		intent  models.Intent
		minConf float64
	}{
		{"send an email to alice", models.IntentSendEmail, 0.9},
		{"please schedule a meeting with Bob", models.IntentScheduleMeeting, 0.9},
		{"what's on my calendar today", models.IntentCheckCalendar, 0.9},
		{"find contact info for John", models.IntentFindContact, 0.9},
		{"when am i free tomorrow", models.IntentCheckFreeSlots, 0.9},
		{"process tenders", models.IntentProcessTenders, 0.9},
		{"upload tender csv", models.IntentProcessTenders, 0.9},
		{"agenda please", models.IntentCheckCalendar, 0.7},
		{"xyzzy", models.IntentUnknown, 0.3},
	}
	for _, tt := range tests {
		intent, conf := r.Recognize(context.Background(), tt.message)
		if intent != tt.intent {
			t.Errorf("Recognize(%q) intent = %s, want %s", tt.message, intent, tt.intent)
		}
		if conf < tt.minConf {
			t.Errorf("Recognize(%q) confidence = %v, want >= %v", tt.message, conf, tt.minConf)
		}
	}
}

func TestRecognizeEmptyMessage(t *testing.T) {
	r := NewRecognizer()
	intent, conf := r.Recognize(context.Background(), "   ")
	if intent != models.IntentUnknown || conf != 0.0 {
		t.Errorf("got %s/%v, want unknown/0.0", intent, conf)
	}
}

func TestRecognizeUsesLLMWhenConfident(t *testing.T) {
	r := NewRecognizer(WithLLM(&fakeLLM{raw: `{"intent":"schedule_meeting","confidence":0.92}`}))
	intent, conf := r.Recognize(context.Background(), "completely ambiguous text")
	if intent != models.IntentScheduleMeeting || conf != 0.92 {
		t.Errorf("got %s/%v, want schedule_meeting/0.92", intent, conf)
	}
}

func TestRecognizeFallsBackOnLowConfidence(t *testing.T) {
	r := NewRecognizer(WithLLM(&fakeLLM{raw: `{"intent":"send_email","confidence":0.4}`}))
	intent, _ := r.Recognize(context.Background(), "schedule a meeting with Bob")
	if intent != models.IntentScheduleMeeting {
		t.Errorf("expected rule fallback to schedule_meeting, got %s", intent)
	}
}

func TestRecognizeFallsBackOnConfidentUnknown(t *testing.T) {
	r := NewRecognizer(WithLLM(&fakeLLM{raw: `{"intent":"unknown","confidence":0.95}`}))
	intent, _ := r.Recognize(context.Background(), "send an email to alice")
	if intent != models.IntentSendEmail {
		t.Errorf("expected rule fallback to send_email, got %s", intent)
	}
}

func TestRecognizeFallsBackOnLLMError(t *testing.T) {
	r := NewRecognizer(WithLLM(&fakeLLM{err: errors.New("api down")}))
	intent, _ := r.Recognize(context.Background(), "check my calendar")
	if intent != models.IntentCheckCalendar {
		t.Errorf("expected rule fallback to check_calendar, got %s", intent)
	}
}

func TestRecognizeFallsBackOnBadJSON(t *testing.T) {
	r := NewRecognizer(WithLLM(&fakeLLM{raw: `not json`}))
	intent, _ := r.Recognize(context.Background(), "who is Jane Doe")
	if intent != models.IntentFindContact {
		t.Errorf("expected rule fallback to find_contact, got %s", intent)
	}
}
