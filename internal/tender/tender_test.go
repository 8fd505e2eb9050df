package tender

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/store"
)

const sampleCSV = `tender_name,email,bidding_date
Road Resurfacing,roads@example.com,15/07/2024
Bridge Inspection,bridge@example.com,2024-08-01
,missing@example.com,15/07/2024
Library Extension,library@example.com,not-a-date
`

func TestParseCSV(t *testing.T) {
	summary, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	if len(summary.Tenders) != 2 {
		t.Fatalf("expected 2 valid tenders, got %d", len(summary.Tenders))
	}
	first := summary.Tenders[0]
	if first.Name != "Road Resurfacing" || first.Email != "roads@example.com" {
		t.Errorf("unexpected first tender: %+v", first)
	}
	if got := first.BiddingDate.Format("2006-01-02"); got != "2024-07-15" {
		t.Errorf("day-first date parsed as %s, want 2024-07-15", got)
	}
	if got := summary.Tenders[1].BiddingDate.Format("2006-01-02"); got != "2024-08-01" {
		t.Errorf("ISO date parsed as %s, want 2024-08-01", got)
	}
	if len(summary.Skipped) != 2 {
		t.Fatalf("expected 2 skipped rows, got %+v", summary.Skipped)
	}
	if summary.Skipped[0].Line != 4 || summary.Skipped[1].Line != 5 {
		t.Errorf("unexpected skip lines: %+v", summary.Skipped)
	}
}

func TestParseCSVMissingColumns(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	if err == nil {
		t.Fatal("expected error for missing header columns")
	}
}

func TestProcessBooksEventsAndReminders(t *testing.T) {
	cal := calendar.NewMockService()
	st := store.NewInMemoryStore()
	p := NewProcessor(cal, st)

	summary, err := p.Process(context.Background(), "user1", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Processed != 2 {
		t.Errorf("processed = %d, want 2", summary.Processed)
	}
	if len(cal.CreatedEvents) != 2 {
		t.Fatalf("expected 2 calendar events, got %d", len(cal.CreatedEvents))
	}
	ev := cal.CreatedEvents[0]
	if !ev.AllDay {
		t.Error("tender reminder event should be all-day")
	}
	if ev.Summary != "Tender bidding: Road Resurfacing" {
		t.Errorf("event summary = %q", ev.Summary)
	}
	if ev.End.Sub(ev.Start) != 24*time.Hour {
		t.Errorf("all-day event should span one day, got %v", ev.End.Sub(ev.Start))
	}

	due, err := st.ListTenderRemindersDue(time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListTenderRemindersDue failed: %v", err)
	}
	if len(due) != 1 || due[0].TenderName != "Road Resurfacing" {
		t.Errorf("unexpected due reminders: %+v", due)
	}
}

func TestProcessBookingFailureExcludesRowFromSummary(t *testing.T) {
	cal := calendar.NewMockService()
	cal.CreateErr = errors.New("calendar down")
	p := NewProcessor(cal, store.NewInMemoryStore())

	summary, err := p.Process(context.Background(), "user1", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if summary.Processed != 0 {
		t.Errorf("processed = %d, want 0", summary.Processed)
	}
	if len(summary.Tenders) != 0 {
		t.Errorf("failed rows must not stay in Tenders: %+v", summary.Tenders)
	}
	if len(summary.Skipped) != 4 {
		t.Fatalf("expected 4 skipped rows, got %+v", summary.Skipped)
	}

	text := FormatSummary(summary)
	if !strings.Contains(text, "Processed 0 tender(s).") {
		t.Errorf("summary should report zero processed:\n%s", text)
	}
	if strings.Contains(text, "bidding on") {
		t.Errorf("summary lists unbooked tenders:\n%s", text)
	}
	if !strings.Contains(text, "calendar booking for Road Resurfacing failed") {
		t.Errorf("summary missing booking failure reason:\n%s", text)
	}
}

func TestFormatSummary(t *testing.T) {
	summary, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	summary.Processed = len(summary.Tenders)
	text := FormatSummary(summary)
	for _, want := range []string{"Processed 2 tender(s).", "Road Resurfacing", "15 Jul 2024", "Skipped 2 row(s):", "line 4"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
