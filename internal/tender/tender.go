// Package tender processes tender CSV files shared over WhatsApp: it parses
// bidding rows, books all-day reminder events on the calendar and records
// reminders for the daily notification job.
package tender

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/calendar"
	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/store"
)

// Column headers recognized in uploaded files, matched case-insensitively
// after trimming.
const (
	colName = "tender_name"
	colMail = "email"
	colDate = "bidding_date"
)

var dateLayouts = []string{"2/1/2006", "2-1-2006", "2.1.2006", "2006-01-02"}

// RowError describes a row that could not be processed. Line is 1-based and
// counts the header.
type RowError struct {
	Line   int
	Reason string
}

// Summary reports the outcome of processing one file.
type Summary struct {
	Processed int
	Tenders   []models.Tender
	Skipped   []RowError
}

// ParseCSV reads tender rows from a CSV document. Rows with a missing name,
// an invalid email or an unparseable date are collected in Summary.Skipped
// rather than aborting the whole file.
func ParseCSV(r io.Reader) (*Summary, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx, mailIdx, dateIdx := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case colName:
			nameIdx = i
		case colMail:
			mailIdx = i
		case colDate:
			dateIdx = i
		}
	}
	if nameIdx < 0 || dateIdx < 0 {
		return nil, fmt.Errorf("%w: header must contain %s and %s columns", models.ErrUnsupportedFile, colName, colDate)
	}

	summary := &Summary{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			summary.Skipped = append(summary.Skipped, RowError{Line: line, Reason: "malformed row"})
			continue
		}

		name := strings.TrimSpace(field(record, nameIdx))
		if name == "" {
			summary.Skipped = append(summary.Skipped, RowError{Line: line, Reason: "missing tender name"})
			continue
		}
		date, err := parseBiddingDate(field(record, dateIdx))
		if err != nil {
			summary.Skipped = append(summary.Skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}
		summary.Tenders = append(summary.Tenders, models.Tender{
			Name:        name,
			Email:       strings.TrimSpace(field(record, mailIdx)),
			BiddingDate: date,
		})
	}
	return summary, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseBiddingDate accepts day-first dates (12/6/2024, 12-6-2024, 12.6.2024)
// and ISO dates.
func parseBiddingDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing bidding date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized bidding date %q", raw)
}

// Processor books reminders for parsed tenders.
type Processor struct {
	calendar calendar.Service
	store    store.Store
}

// NewProcessor creates a tender processor. The calendar service may be nil,
// in which case only store reminders are written.
func NewProcessor(cal calendar.Service, st store.Store) *Processor {
	return &Processor{calendar: cal, store: st}
}

// Process parses the file and books one all-day calendar event plus one
// stored reminder per valid row. Booking failures demote the row to Skipped
// instead of failing the batch; Summary.Tenders keeps only the rows that
// were fully booked.
func (p *Processor) Process(ctx context.Context, userID string, r io.Reader) (*Summary, error) {
	summary, err := ParseCSV(r)
	if err != nil {
		return nil, err
	}

	var booked []models.Tender
	for _, t := range summary.Tenders {
		if p.calendar != nil {
			_, err := p.calendar.CreateEvent(ctx, calendar.CreateEventParams{
				Summary:     "Tender bidding: " + t.Name,
				Description: tenderDescription(t),
				Start:       t.BiddingDate,
				End:         t.BiddingDate.AddDate(0, 0, 1),
				AllDay:      true,
			})
			if err != nil {
				slog.Error("Tender event creation failed", "tender", t.Name, "error", err)
				summary.Skipped = append(summary.Skipped, RowError{Reason: fmt.Sprintf("calendar booking for %s failed", t.Name)})
				continue
			}
		}
		if p.store != nil {
			err := p.store.SaveTenderReminder(models.TenderReminder{
				UserID:      userID,
				TenderName:  t.Name,
				BiddingDate: t.BiddingDate,
				CreatedAt:   time.Now(),
			})
			if err != nil {
				return nil, fmt.Errorf("save reminder for %s: %w", t.Name, err)
			}
		}
		booked = append(booked, t)
		summary.Processed++
	}
	summary.Tenders = booked
	slog.Info("Tender file processed", "user", userID, "processed", summary.Processed, "skipped", len(summary.Skipped))
	return summary, nil
}

func tenderDescription(t models.Tender) string {
	if t.Email == "" {
		return "Bidding deadline."
	}
	return "Bidding deadline. Contact: " + t.Email
}

// FormatSummary renders the reply sent back to the user after processing.
func FormatSummary(summary *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d tender(s).", summary.Processed)
	for _, t := range summary.Tenders {
		fmt.Fprintf(&b, "\n• %s: bidding on %s", t.Name, t.BiddingDate.Format("02 Jan 2006"))
	}
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped %d row(s):", len(summary.Skipped))
		for _, s := range summary.Skipped {
			if s.Line > 0 {
				fmt.Fprintf(&b, "\n• line %d: %s", s.Line, s.Reason)
			} else {
				fmt.Fprintf(&b, "\n• %s", s.Reason)
			}
		}
	}
	return b.String()
}
