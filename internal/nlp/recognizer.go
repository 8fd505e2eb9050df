// Package nlp turns free-text WhatsApp messages into structured intents and
// entities. Classification tries the GenAI client first and falls back to a
// rule engine when the model is unavailable or unsure.
package nlp

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

// ConfidenceThreshold is the minimum classifier confidence accepted before
// falling back to the rule engine.
const ConfidenceThreshold = 0.65

// Rule engine confidence levels.
const (
	patternConfidence = 0.9
	keywordConfidence = 0.7
	unknownConfidence = 0.3
)

const classifySystemPrompt = `You classify a WhatsApp message into exactly one intent.
Valid intents: send_email, schedule_meeting, check_calendar, find_contact, check_free_slots, process_tenders, unknown.
Respond with a JSON object: {"intent": "<intent>", "confidence": <0.0-1.0>}.`

// jsonGenerator is the slice of the GenAI client the recognizer needs.
type jsonGenerator interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts holds configuration options for the recognizer.
type Opts struct {
	LLM jsonGenerator
}

// Option defines a configuration option for the recognizer.
type Option func(*Opts)

// WithLLM sets the GenAI client used for primary classification. Without it
// the recognizer is purely rule-based.
func WithLLM(llm jsonGenerator) Option {
	return func(o *Opts) { o.LLM = llm }
}

// Recognizer classifies messages into intents.
type Recognizer struct {
	llm jsonGenerator
}

// NewRecognizer creates a recognizer, applying any provided options.
func NewRecognizer(opts ...Option) *Recognizer {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Recognizer{llm: cfg.LLM}
}

// Recognize returns the intent of a message with a confidence score.
// The GenAI classification is used when it is confident; a confident
// "unknown" from the model still gets a second opinion from the rules.
func (r *Recognizer) Recognize(ctx context.Context, message string) (models.Intent, float64) {
	if strings.TrimSpace(message) == "" {
		return models.IntentUnknown, 0.0
	}

	if r.llm != nil {
		if intent, confidence, ok := r.classifyWithLLM(ctx, message); ok {
			if intent == models.IntentUnknown && confidence > 0.8 {
				slog.Debug("Recognizer got confident unknown from model, consulting rules", "confidence", confidence)
			} else if confidence >= ConfidenceThreshold {
				return intent, confidence
			}
		}
	}

	return r.recognizeRuleBased(message)
}

func (r *Recognizer) classifyWithLLM(ctx context.Context, message string) (models.Intent, float64, bool) {
	raw, err := r.llm.GenerateJSON(ctx, classifySystemPrompt, message)
	if err != nil {
		slog.Warn("Recognizer LLM classification failed, falling back to rules", "error", err)
		return models.IntentUnknown, 0, false
	}
	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("Recognizer LLM returned unparseable JSON", "error", err)
		return models.IntentUnknown, 0, false
	}
	intent := models.Intent(parsed.Intent)
	switch intent {
	case models.IntentSendEmail, models.IntentScheduleMeeting, models.IntentCheckCalendar,
		models.IntentFindContact, models.IntentCheckFreeSlots, models.IntentProcessTenders,
		models.IntentUnknown:
		slog.Debug("Recognizer LLM classified message", "intent", intent, "confidence", parsed.Confidence)
		return intent, parsed.Confidence, true
	default:
		slog.Warn("Recognizer LLM returned unrecognized intent", "intent", parsed.Intent)
		return models.IntentUnknown, 0, false
	}
}

// Pattern groups checked in order; the first group with a match wins.
var intentPatterns = []struct {
	intent   models.Intent
	patterns []*regexp.Regexp
}{
	{models.IntentProcessTenders, compileAll(
		`process\s+(?:tender|tenders)`,
		`set\s+(?:tender|tenders)\s+reminder`,
		`create\s+tender\s+reminder`,
		`add\s+tender\s+(?:reminder|event)`,
		`upload\s+tender\s+(?:file|csv|excel)`,
	)},
	{models.IntentCheckCalendar, compileAll(
		`what'?s\s+on\s+(?:my\s+)?calendar`,
		`what\s+is\s+on\s+(?:my\s+)?calendar`,
		`check\s+(?:my\s+)?calendar`,
		`show\s+(?:my\s+)?calendar`,
		`what\s+do\s+i\s+have\s+(?:on|for|scheduled)`,
		`calendar\s+for\s+today`,
		`today'?s\s+(?:events|calendar|schedule)`,
		`my\s+events`,
		`my\s+schedule`,
		`my\s+agenda`,
		`what\s+events`,
		`any\s+events`,
		`appointments\s+(?:today|tomorrow|this week)`,
		`meetings\s+(?:today|tomorrow|this week)`,
	)},
	{models.IntentSendEmail, compileAll(
		`send\s+(?:an\s+)?email`,
		`write\s+(?:an\s+)?email`,
		`email\s+to`,
		`compose\s+(?:an\s+)?email`,
		`send\s+(?:a\s+)?message\s+to`,
	)},
	{models.IntentScheduleMeeting, compileAll(
		`schedule\s+(?:a\s+)?meeting`,
		`set\s+up\s+(?:a\s+)?meeting`,
		`book\s+(?:a\s+)?meeting`,
		`arrange\s+(?:a\s+)?meeting`,
		`plan\s+(?:a\s+)?meeting`,
		`set\s+(?:an?\s+)?appointment`,
	)},
	{models.IntentFindContact, compileAll(
		`find\s+contact`,
		`find\s+(?:the\s+)?email\s+(?:address\s+)?(?:for|of)`,
		`get\s+contact\s+(?:info|information)`,
		`look\s+up\s+contact`,
		`search\s+(?:for\s+)?contact`,
		`who\s+is`,
		`contact\s+information`,
		`contact\s+details`,
	)},
	{models.IntentCheckFreeSlots, compileAll(
		`find\s+(?:a\s+)?free\s+(?:slot|time)`,
		`check\s+(?:my\s+)?availability`,
		`when\s+am\s+i\s+free`,
		`available\s+(?:slot|time)`,
		`open\s+(?:slot|time)`,
		`free\s+time`,
	)},
}

// Keyword fallback, checked in order after the pattern groups.
var intentKeywords = []struct {
	keyword string
	intent  models.Intent
}{
	{"email", models.IntentSendEmail},
	{"mail", models.IntentSendEmail},
	{"message", models.IntentSendEmail},
	{"meeting", models.IntentScheduleMeeting},
	{"schedule", models.IntentScheduleMeeting},
	{"appointment", models.IntentScheduleMeeting},
	{"calendar", models.IntentCheckCalendar},
	{"events", models.IntentCheckCalendar},
	{"agenda", models.IntentCheckCalendar},
	{"contact", models.IntentFindContact},
	{"find", models.IntentFindContact},
	{"who is", models.IntentFindContact},
	{"availability", models.IntentCheckFreeSlots},
	{"free time", models.IntentCheckFreeSlots},
	{"when am i free", models.IntentCheckFreeSlots},
}

func (r *Recognizer) recognizeRuleBased(message string) (models.Intent, float64) {
	text := strings.ToLower(message)

	for _, group := range intentPatterns {
		for _, pattern := range group.patterns {
			if pattern.MatchString(text) {
				slog.Debug("Recognizer rule pattern matched", "intent", group.intent)
				return group.intent, patternConfidence
			}
		}
	}

	for _, kw := range intentKeywords {
		if strings.Contains(text, kw.keyword) {
			slog.Debug("Recognizer keyword matched", "keyword", kw.keyword, "intent", kw.intent)
			return kw.intent, keywordConfidence
		}
	}

	return models.IntentUnknown, unknownConfidence
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}
