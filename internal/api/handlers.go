package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// askHandler runs one candidate message through the engine (POST /ask).
// Engine failures become a generic 500; nothing internal reaches the relay.
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rid := requestID(r.Context())
	slog.Debug("Server.askHandler: processing ask request", "method", r.Method, "request_id", rid)
	if r.Method != http.MethodPost {
		slog.Warn("Server.askHandler: method not allowed", "method", r.Method)
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.askHandler: failed to decode JSON", "error", err, "request_id", rid)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.askHandler: validation failed", "error", err, "request_id", rid)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if s.dedup != nil && req.ID != "" {
		first, err := s.dedup.RecordInbound(r.Context(), req.ID, req.Sender)
		if err != nil {
			slog.Error("Server.askHandler: dedup failed", "error", err, "request_id", rid)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
			return
		}
		if !first {
			slog.Info("Server.askHandler: duplicate message ignored", "sender", req.Sender, "id", req.ID)
			writeJSONResponse(w, http.StatusOK, models.AskResponse{})
			return
		}
	}

	reply, err := s.engine.Process(r.Context(), req.Sender, req.Message)
	if err != nil {
		slog.Error("Server.askHandler: engine failed", "error", err, "sender", req.Sender, "request_id", rid)
		if s.dedup != nil && req.ID != "" {
			// The relay retries a 500; let that retry through.
			if ferr := s.dedup.ForgetInbound(r.Context(), req.ID); ferr != nil {
				slog.Error("Server.askHandler: forget inbound failed", "error", ferr, "id", req.ID)
			}
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}

	if s.dedup != nil && req.ID != "" {
		if err := s.dedup.MarkProcessed(r.Context(), req.ID); err != nil {
			slog.Warn("Server.askHandler: mark processed failed", "error", err, "id", req.ID)
		}
	}

	slog.Debug("Server.askHandler: reply computed", "sender", req.Sender, "kind", reply.Kind, "request_id", rid)
	writeJSONResponse(w, http.StatusOK, models.NewAskResponse(reply))
}

// senderFromPath extracts the sender from /<prefix>/{sender}.
func senderFromPath(path, prefix string) string {
	raw := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if raw == "" || strings.Contains(raw, "/") {
		return ""
	}
	sender, err := url.PathUnescape(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(sender)
}

// stateHandler handles GET and DELETE /state/{sender}.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stateHandler: invoked", "method", r.Method, "path", r.URL.Path)
	sender := senderFromPath(r.URL.Path, "/state")
	if sender == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Sender required: /state/{sender}"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		state, err := s.engine.State(r.Context(), sender)
		if err != nil {
			slog.Error("Server.stateHandler: failed to load state", "error", err, "sender", sender)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load state"))
			return
		}
		if state == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No conversation for sender"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(state))
	case http.MethodDelete:
		if err := s.engine.Reset(r.Context(), sender); err != nil {
			slog.Error("Server.stateHandler: failed to reset state", "error", err, "sender", sender)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset state"))
			return
		}
		slog.Info("Server.stateHandler: conversation reset", "sender", sender)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation reset", nil))
	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

// transcriptHandler handles GET /transcript/{sender}.
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.transcripts == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Transcripts are not enabled"))
		return
	}
	sender := senderFromPath(r.URL.Path, "/transcript")
	if sender == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Sender required: /transcript/{sender}"))
		return
	}
	entries, err := s.transcripts.GetTranscript(r.Context(), sender)
	if err != nil {
		slog.Error("Server.transcriptHandler: failed to read transcript", "error", err, "sender", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read transcript"))
		return
	}
	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"messaging":      s.msgService != nil,
	})
}
