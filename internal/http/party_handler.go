package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/party-scheduler/internal/application"
)

type partyService interface {
	CreateParty(ctx context.Context, params application.CreatePartyParams) (application.PartyView, error)
	JoinParty(ctx context.Context, params application.PartyMemberParams) (application.PartyView, error)
	SwitchParty(ctx context.Context, params application.SwitchPartyParams) (application.PartyView, error)
	LeaveParty(ctx context.Context, params application.PartyMemberParams) error
	DeleteParty(ctx context.Context, params application.PartyMemberParams) error
	ListParties(ctx context.Context, serverID, userID string) ([]application.PartyView, error)
}

type PartyHandler struct {
	service   partyService
	responder responder
	logger    *slog.Logger
}

func NewPartyHandler(service partyService, logger *slog.Logger) *PartyHandler {
	base := defaultLogger(logger)
	return &PartyHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *PartyHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PartyHandler", operation, attrs...)
}

func (h *PartyHandler) List(w http.ResponseWriter, r *http.Request) {
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

	parties, err := h.service.ListParties(r.Context(), serverID, userID)
	if err != nil {
		h.log(r.Context(), "List", "server_id", serverID).WarnContext(r.Context(), "party list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listPartiesResponse{Parties: toPartyDTOs(parties)})
}

func (h *PartyHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req createPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "server_id", serverID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode party request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "server_id", serverID)
	party, err := h.service.CreateParty(r.Context(), application.CreatePartyParams{
		ServerID: serverID,
		UserID:   userID,
		Slot:     req.Slot,
		GameKind: strings.TrimSpace(req.Game.Kind),
		GameID:   strings.TrimSpace(req.Game.ID),
		Capacity: req.Capacity,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "party creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("party_id", party.ID).InfoContext(r.Context(), "party created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, partyResponse{Party: toPartyDTO(party)})
}

// Join adds the caller to a party. With {"switch": true} the caller first
// leaves from_party_id, or their current party when it is omitted.
func (h *PartyHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID, partyID, ok := h.partyPath(w, r)
	if !ok {
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	var req joinPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log(r.Context(), "Join", "server_id", serverID, "party_id", partyID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode join request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Join", "server_id", serverID, "party_id", partyID)

	var (
		party application.PartyView
		err   error
	)
	if req.Switch {
		party, err = h.service.SwitchParty(r.Context(), application.SwitchPartyParams{
			ServerID:    serverID,
			UserID:      userID,
			FromPartyID: strings.TrimSpace(req.FromPartyID),
			ToPartyID:   partyID,
		})
	} else {
		party, err = h.service.JoinParty(r.Context(), application.PartyMemberParams{ServerID: serverID, PartyID: partyID, UserID: userID})
	}
	if err != nil {
		logger.WarnContext(r.Context(), "party join failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("member_count", len(party.Members), "switch", req.Switch).InfoContext(r.Context(), "party joined")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, partyResponse{Party: toPartyDTO(party)})
}

func (h *PartyHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID, partyID, ok := h.partyPath(w, r)
	if !ok {
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	logger := h.log(r.Context(), "Leave", "server_id", serverID, "party_id", partyID)
	if err := h.service.LeaveParty(r.Context(), application.PartyMemberParams{ServerID: serverID, PartyID: partyID, UserID: userID}); err != nil {
		logger.WarnContext(r.Context(), "party leave failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "party left")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *PartyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID, partyID, ok := h.partyPath(w, r)
	if !ok {
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	logger := h.log(r.Context(), "Delete", "server_id", serverID, "party_id", partyID)
	if err := h.service.DeleteParty(r.Context(), application.PartyMemberParams{ServerID: serverID, PartyID: partyID, UserID: userID}); err != nil {
		logger.WarnContext(r.Context(), "party delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "party deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *PartyHandler) partyPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return "", "", false
	}
	partyID := pathParam(r, "partyID")
	if partyID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidPartyID)
		return "", "", false
	}
	return serverID, partyID, true
}

type createPartyRequest struct {
	Slot     time.Time      `json:"slot"`
	Game     gameRefRequest `json:"game"`
	Capacity int            `json:"capacity"`
}

type joinPartyRequest struct {
	Switch      bool   `json:"switch"`
	FromPartyID string `json:"from_party_id"`
}

type partyResponse struct {
	Party partyDTO `json:"party"`
}

type listPartiesResponse struct {
	Parties []partyDTO `json:"parties"`
}

type partyDTO struct {
	ID         string     `json:"id"`
	CreatorID  string     `json:"creator_id"`
	Slot       string     `json:"slot"`
	Game       gameRefDTO `json:"game"`
	Capacity   int        `json:"capacity"`
	Members    []string   `json:"members"`
	Full       bool       `json:"full"`
	Version    int        `json:"version"`
	CycleStart string     `json:"cycle_start"`
	CreatedAt  string     `json:"created_at"`
	UpdatedAt  string     `json:"updated_at"`
}

func toPartyDTO(party application.PartyView) partyDTO {
	members := append([]string{}, party.Members...)
	return partyDTO{
		ID:         party.ID,
		CreatorID:  party.CreatorID,
		Slot:       formatTime(party.Slot),
		Game:       toGameRefDTO(party.Game, party.GameName),
		Capacity:   party.Capacity,
		Members:    members,
		Full:       party.Full(),
		Version:    party.Version,
		CycleStart: formatTime(party.CycleStart),
		CreatedAt:  formatTime(party.CreatedAt),
		UpdatedAt:  formatTime(party.UpdatedAt),
	}
}

func toPartyDTOs(parties []application.PartyView) []partyDTO {
	out := make([]partyDTO, 0, len(parties))
	for _, party := range parties {
		out = append(out, toPartyDTO(party))
	}
	return out
}
