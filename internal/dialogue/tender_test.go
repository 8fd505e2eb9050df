package dialogue

import (
	"strings"
	"testing"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

const tenderCSV = `tender_name,email,bidding_date
Road Resurfacing,roads@example.com,15/07/2024
Bridge Inspection,bridge@example.com,20/07/2024
`

func TestTenderFlow(t *testing.T) {
	f := newFixture(t, models.IntentProcessTenders)
	f.media.payload = tenderCSV

	reply := f.send(t, "process the tender files")
	if !strings.Contains(reply, "CSV") {
		t.Fatalf("expected file prompt, got %q", reply)
	}
	if state := f.state(t); state == nil || state.Step != models.StepTenderAwaitingFile {
		t.Fatalf("expected awaiting-file state, got %+v", state)
	}

	reply = f.sendAttachment(t, "", &models.Attachment{
		URL:         "https://api.twilio.com/media/tenders.csv",
		ContentType: "text/csv",
	})
	if !strings.Contains(reply, "Processed 2 tender(s).") {
		t.Fatalf("expected processing summary, got %q", reply)
	}
	f.requireNoState(t)

	if len(f.calendar.CreatedEvents) != 2 {
		t.Fatalf("expected 2 reminder events, got %d", len(f.calendar.CreatedEvents))
	}
	if !f.calendar.CreatedEvents[0].AllDay {
		t.Error("reminder events should be all-day")
	}
}

func TestTenderRejectsNonFileReply(t *testing.T) {
	f := newFixture(t, models.IntentProcessTenders)
	f.send(t, "process the tender files")

	reply := f.send(t, "here you go")
	if !strings.Contains(reply, "waiting for a tender CSV") {
		t.Fatalf("expected rejection prompt, got %q", reply)
	}
	if state := f.state(t); state == nil || state.Step != models.StepTenderAwaitingFile {
		t.Fatalf("state should survive a rejected reply, got %+v", state)
	}
}

func TestTenderSpreadsheetGetsGuidance(t *testing.T) {
	f := newFixture(t, models.IntentProcessTenders)
	f.send(t, "process the tender files")

	reply := f.sendAttachment(t, "", &models.Attachment{
		URL:         "https://api.twilio.com/media/tenders.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	})
	if !strings.Contains(reply, "export the file as CSV") {
		t.Fatalf("expected CSV guidance, got %q", reply)
	}
	if f.state(t) == nil {
		t.Fatal("state should survive an unsupported attachment")
	}
}

func TestTenderImmediateAttachment(t *testing.T) {
	f := newFixture(t, models.IntentProcessTenders)
	f.media.payload = tenderCSV

	reply := f.sendAttachment(t, "", &models.Attachment{
		URL:         "https://api.twilio.com/media/tenders.csv",
		ContentType: "text/csv",
	})
	if !strings.Contains(reply, "Processed 2 tender(s).") {
		t.Fatalf("expected immediate processing, got %q", reply)
	}
	f.requireNoState(t)
}
