package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AssistPipe/internal/models"
)

// emptyTwiML acknowledges a Twilio webhook without sending a reply in-band;
// replies go out through the messaging service instead.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// writeJSON marshals the payload before touching the header so an encoding
// failure can still become a 500.
func writeJSON(w http.ResponseWriter, statusCode int, payload models.APIResponse) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Server.writeJSON: marshal failed", "error", err)
		statusCode = http.StatusInternalServerError
		data = []byte(`{"status":"error","message":"Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server.writeJSON: write failed", "error", err)
	}
}

// webhookHandler receives inbound WhatsApp deliveries from Twilio. It hands
// the delivery to the messaging service and acknowledges immediately; the
// dialogue turn runs asynchronously.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Server.webhookHandler: failed to parse form", "error", err)
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	if from == "" {
		slog.Warn("Server.webhookHandler: missing From field")
		http.Error(w, "missing From field", http.StatusBadRequest)
		return
	}

	response := models.Response{
		From: from,
		Body: r.FormValue("Body"),
		Time: time.Now().Unix(),
	}
	if r.FormValue("NumMedia") != "" && r.FormValue("NumMedia") != "0" {
		response.MediaURL = r.FormValue("MediaUrl0")
		response.MediaContentType = r.FormValue("MediaContentType0")
	}

	if s.emitter != nil {
		s.emitter.EmitResponse(response)
	} else {
		slog.Warn("Server.webhookHandler: no emitter configured, dropping delivery", "from", from)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.webhookHandler: failed to write acknowledgement", "error", err)
	}
}

// healthHandler reports service liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.SuccessWithMessage("service is healthy", nil))
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// sendHandler delivers a one-off message to a recipient. It exists for
// operational use (smoke tests, announcements), not for the dialogue flow.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSON(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("body must not be empty"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSON(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), canonicalTo, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSON(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent", "to", canonicalTo)
	writeJSON(w, http.StatusOK, models.SuccessWithMessage("message sent", nil))
}
