package nlp

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/tsawler/prose/v3"
)

var (
	todayRegex     = regexp.MustCompile(`\b(today)\b`)
	tomorrowRegex  = regexp.MustCompile(`\b(tomorrow|tmrw|tmw|tommorow)\b`)
	yesterdayRegex = regexp.MustCompile(`\b(yesterday)\b`)

	// Numeric dates are interpreted day-first (11/06/2024 is June 11).
	numericDateRegex = regexp.MustCompile(`(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})`)

	// Times need a colon or an am/pm marker so bare numbers (days, durations)
	// are not misread as times.
	clockTimeRegex = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	meridiemRegex  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)

	durationRegex = regexp.MustCompile(`(\d+)\s*(hour|minute|min)s?`)
	emailsRegex   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	subjectPatterns = compileAll(
		`(?i)subject\s*(?:is|:)\s*(.+)`,
		`(?i)\babout\s+(.+)`,
		`(?i)\bregarding\s+(.+)`,
	)
	bodyPatterns = compileAll(
		`(?i)body\s*(?:is|:)\s*(.+)`,
		`(?i)content\s*(?:is|:)\s*(.+)`,
		`(?i)message\s*(?:is|:)\s*(.+)`,
	)
	locationPatterns = compileAll(
		`(?i)\b(?:at|in)\s+(?:the\s+)?([A-Za-z][A-Za-z ]*)`,
		`(?i)location\s*(?:is|:)\s*([A-Za-z][A-Za-z ]*)`,
		`(?i)place\s*(?:is|:)\s*([A-Za-z][A-Za-z ]*)`,
	)
)

// Words that follow "at"/"in" without being places.
var timeWords = map[string]bool{
	"today": true, "tomorrow": true, "morning": true,
	"afternoon": true, "evening": true, "night": true,
}

// Extractor pulls entities out of a single message. It is stateless and safe
// for concurrent use.
type Extractor struct{}

// NewExtractor creates an entity extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the entities found in message. The intent hint enables
// intent-specific extraction (email subject/body, meeting location, contact
// names). Relative dates are resolved against now.
func (e *Extractor) Extract(message string, intent models.Intent, now time.Time) models.EntityBag {
	var bag models.EntityBag
	lower := strings.ToLower(message)

	bag.Date = extractDate(message, lower, now)
	bag.Time = extractTime(message)
	bag.Duration = extractDuration(lower)
	bag.Emails = emailsRegex.FindAllString(message, -1)
	bag.Persons = extractPersons(message)

	switch intent {
	case models.IntentSendEmail:
		bag.Subject = firstCapture(subjectPatterns, message)
		bag.Body = firstCapture(bodyPatterns, message)
	case models.IntentScheduleMeeting:
		bag.Subject = firstCapture(subjectPatterns, message)
		bag.Location = extractLocation(message)
	case models.IntentFindContact:
		if len(bag.Persons) == 0 {
			if name := capitalizedNameAfterCue(message); name != "" {
				bag.Persons = []string{name}
			}
		}
	}

	slog.Debug("Extractor finished", "date", bag.Date, "time", bag.Time,
		"duration", bag.Duration, "emails", len(bag.Emails), "persons", len(bag.Persons))
	return bag
}

func extractDate(message, lower string, now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case todayRegex.MatchString(lower):
		return today.Format(models.SlotDateFormat)
	case tomorrowRegex.MatchString(lower):
		return today.AddDate(0, 0, 1).Format(models.SlotDateFormat)
	case yesterdayRegex.MatchString(lower):
		return today.AddDate(0, 0, -1).Format(models.SlotDateFormat)
	}

	if m := numericDateRegex.FindStringSubmatch(message); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if day >= 1 && day <= 31 && month >= 1 && month <= 12 && year >= 2000 {
			date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
			// time.Date normalizes overflow (Feb 30 becomes Mar 1); reject those.
			if date.Day() == day && date.Month() == time.Month(month) {
				return date.Format(models.SlotDateFormat)
			}
		}
	}
	return ""
}

func extractTime(message string) string {
	if m := clockTimeRegex.FindStringSubmatch(message); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour = applyMeridiem(hour, m[3]); hour >= 0 && hour <= 23 && minute <= 59 {
			return formatClock(hour, minute)
		}
	}
	if m := meridiemRegex.FindStringSubmatch(message); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour = applyMeridiem(hour, m[2]); hour >= 0 && hour <= 23 {
			return formatClock(hour, 0)
		}
	}
	return ""
}

func applyMeridiem(hour int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour
}

func formatClock(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format(models.SlotTimeFormat)
}

func extractDuration(lower string) int {
	m := durationRegex.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	amount, _ := strconv.Atoi(m[1])
	if strings.HasPrefix(m[2], "hour") {
		return amount * 60
	}
	return amount
}

// extractPersons runs prose NER and keeps PERSON entities.
func extractPersons(message string) []string {
	doc, err := prose.NewDocument(message)
	if err != nil {
		slog.Debug("Extractor NER failed", "error", err)
		return nil
	}
	var persons []string
	for _, ent := range doc.Entities() {
		if strings.EqualFold(ent.Label, "PERSON") {
			persons = append(persons, ent.Text)
		}
	}
	return persons
}

func extractLocation(message string) string {
	for _, pattern := range locationPatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		location := strings.TrimSpace(m[1])
		if location != "" && !timeWords[strings.ToLower(location)] {
			return location
		}
	}
	return ""
}

// capitalizedNameAfterCue finds a run of capitalized words following a cue
// word like "for" or "contact", e.g. "find contact info for John Smith".
func capitalizedNameAfterCue(message string) string {
	words := strings.Fields(message)
	for i, word := range words {
		switch strings.ToLower(word) {
		case "for", "about", "contact", "information":
		default:
			continue
		}
		var nameParts []string
		for j := i + 1; j < len(words); j++ {
			runes := []rune(words[j])
			if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
				break
			}
			nameParts = append(nameParts, strings.Trim(words[j], ".,?!"))
		}
		if len(nameParts) > 0 {
			return strings.Join(nameParts, " ")
		}
	}
	return ""
}

func firstCapture(patterns []*regexp.Regexp, message string) string {
	for _, pattern := range patterns {
		if m := pattern.FindStringSubmatch(message); m != nil {
			return strings.Trim(strings.TrimSpace(m[1]), `"'`)
		}
	}
	return ""
}
