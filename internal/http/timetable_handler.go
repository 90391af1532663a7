package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/persistence"
)

type timetableService interface {
	ReserveEntry(ctx context.Context, params application.ReserveEntryParams) (application.EntryView, error)
	CancelEntry(ctx context.Context, params application.MembershipParams) error
	ListTimetable(ctx context.Context, userID string, params application.ListTimetableParams) ([]application.EntryView, error)
}

type TimetableHandler struct {
	service   timetableService
	responder responder
	logger    *slog.Logger
}

func NewTimetableHandler(service timetableService, logger *slog.Logger) *TimetableHandler {
	base := defaultLogger(logger)
	return &TimetableHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *TimetableHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "TimetableHandler", operation, attrs...)
}

// List returns the current cycle's standalone entries. The game query parameter
// filters by a case-insensitive substring of the game name and sort=game groups
// entries by game.
func (h *TimetableHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	query := r.URL.Query()
	params := application.ListTimetableParams{
		ServerID:   serverID,
		GameQuery:  strings.TrimSpace(query.Get("game")),
		SortByGame: strings.EqualFold(strings.TrimSpace(query.Get("sort")), "game"),
	}

	logger := h.log(r.Context(), "List", "server_id", serverID)
	entries, err := h.service.ListTimetable(r.Context(), userID, params)
	if err != nil {
		logger.WarnContext(r.Context(), "timetable list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(entries)).DebugContext(r.Context(), "timetable listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listEntriesResponse{Entries: toEntryDTOs(entries)})
}

// Reserve creates or replaces the caller's entry for the current cycle.
func (h *TimetableHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	var req reserveEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Reserve", "server_id", serverID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode reservation", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Reserve", "server_id", serverID)
	entry, err := h.service.ReserveEntry(r.Context(), application.ReserveEntryParams{
		ServerID: serverID,
		UserID:   userID,
		Slot:     req.Slot,
		GameKind: strings.TrimSpace(req.Game.Kind),
		GameID:   strings.TrimSpace(req.Game.ID),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "reservation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("entry_id", entry.ID).InfoContext(r.Context(), "entry reserved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, entryResponse{Entry: toEntryDTO(entry)})
}

// Cancel removes the caller's entry. Cancelling without an entry succeeds.
func (h *TimetableHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	logger := h.log(r.Context(), "Cancel", "server_id", serverID)
	if err := h.service.CancelEntry(r.Context(), application.MembershipParams{ServerID: serverID, UserID: userID}); err != nil {
		logger.WarnContext(r.Context(), "cancellation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "entry cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type gameRefRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type reserveEntryRequest struct {
	Slot time.Time      `json:"slot"`
	Game gameRefRequest `json:"game"`
}

type entryResponse struct {
	Entry entryDTO `json:"entry"`
}

type listEntriesResponse struct {
	Entries []entryDTO `json:"entries"`
}

type gameRefDTO struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type entryDTO struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Slot       string     `json:"slot"`
	Game       gameRefDTO `json:"game"`
	CycleStart string     `json:"cycle_start"`
	CreatedAt  string     `json:"created_at"`
}

func toGameRefDTO(ref persistence.GameRef, name string) gameRefDTO {
	return gameRefDTO{Kind: string(ref.Kind), ID: ref.ID, Name: name}
}

func toEntryDTO(entry application.EntryView) entryDTO {
	return entryDTO{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Slot:       formatTime(entry.Slot),
		Game:       toGameRefDTO(entry.Game, entry.GameName),
		CycleStart: formatTime(entry.CycleStart),
		CreatedAt:  formatTime(entry.CreatedAt),
	}
}

func toEntryDTOs(entries []application.EntryView) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryDTO(entry))
	}
	return out
}
