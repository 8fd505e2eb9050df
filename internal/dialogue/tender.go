package dialogue

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/tender"
)

// Spreadsheet MIME types are recognized only to give accurate guidance;
// processing accepts CSV.
var csvContentTypes = map[string]bool{
	"text/csv":                    true,
	"application/csv":             true,
	"text/comma-separated-values": true,
}

var spreadsheetContentTypes = map[string]bool{
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// startTender enters the TENDER machine. If the triggering message already
// carries a usable file it is processed immediately without creating state.
func (e *Engine) startTender(ctx context.Context, t *turn, _ models.EntityBag) error {
	if t.attachment != nil && isCSVAttachment(t.attachment) {
		return e.processTenderFile(ctx, t)
	}

	state := models.NewConversationState(t.userID, models.DialogueTender, models.StepTenderAwaitingFile)
	if err := e.saveState(state); err != nil {
		return err
	}
	return e.reply(ctx, t.userID,
		"Please send me the tender file as a CSV with columns tender_name, email and bidding_date.")
}

// handleTenderAwaitingFile accepts only a CSV attachment; anything else
// keeps the state and explains what is expected.
func (e *Engine) handleTenderAwaitingFile(ctx context.Context, t *turn) error {
	switch {
	case t.attachment == nil:
		return e.reply(ctx, t.userID,
			"I'm waiting for a tender CSV file. Attach one, or say cancel to stop.")
	case spreadsheetContentTypes[t.attachment.ContentType]:
		return e.reply(ctx, t.userID,
			"I can't read spreadsheets directly. Please export the file as CSV and send it again.")
	case !isCSVAttachment(t.attachment):
		return e.reply(ctx, t.userID,
			"That file type isn't supported. Please send a CSV file, or say cancel to stop.")
	default:
		if err := e.clearState(t.userID); err != nil {
			return err
		}
		return e.processTenderFile(ctx, t)
	}
}

// processTenderFile downloads the attachment and hands it to the processor.
func (e *Engine) processTenderFile(ctx context.Context, t *turn) error {
	if e.tenders == nil || e.media == nil {
		return e.reply(ctx, t.userID, "Sorry, tender processing isn't available right now.")
	}

	body, err := e.media.DownloadMedia(ctx, t.attachment.URL)
	if err != nil {
		slog.Error("Engine tender download failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID, "Sorry, I couldn't download that file. Please send it again.")
	}
	defer body.Close()

	summary, err := e.tenders.Process(ctx, t.userID, body)
	if err != nil {
		slog.Error("Engine tender processing failed", "user", t.userID, "error", err)
		return e.reply(ctx, t.userID,
			"Sorry, processing the tender file failed. Check the file has tender_name, email and bidding_date columns.")
	}
	return e.reply(ctx, t.userID, tender.FormatSummary(summary))
}

func isCSVAttachment(a *models.Attachment) bool {
	mediaType := a.ContentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if csvContentTypes[mediaType] {
		return true
	}
	return strings.HasSuffix(strings.ToLower(a.URL), ".csv")
}
