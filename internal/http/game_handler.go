package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/party-scheduler/internal/application"
)

type gameCatalog interface {
	List(ctx context.Context, serverID, userID string) ([]application.Game, error)
	CreateCustomGame(ctx context.Context, params application.CreateCustomGameParams) (application.Game, error)
}

// customGameRemover cascades the deletion to entries and parties using the game.
type customGameRemover interface {
	DeleteCustomGame(ctx context.Context, params application.DeleteCustomGameParams) error
}

type GameHandler struct {
	catalog   gameCatalog
	remover   customGameRemover
	responder responder
	logger    *slog.Logger
}

func NewGameHandler(catalog gameCatalog, remover customGameRemover, logger *slog.Logger) *GameHandler {
	base := defaultLogger(logger)
	return &GameHandler{catalog: catalog, remover: remover, responder: newResponder(base), logger: base}
}

func (h *GameHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "GameHandler", operation, attrs...)
}

func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.catalog == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	games, err := h.catalog.List(r.Context(), serverID, userID)
	if err != nil {
		h.log(r.Context(), "List", "server_id", serverID).WarnContext(r.Context(), "game list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listGamesResponse{Games: toGameDTOs(games)})
}

func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.catalog == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "server_id", serverID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode game request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "server_id", serverID)
	game, err := h.catalog.CreateCustomGame(r.Context(), application.CreateCustomGameParams{
		ServerID: serverID,
		UserID:   userID,
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "custom game creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("game_id", game.Ref.ID).InfoContext(r.Context(), "custom game created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, gameResponse{Game: toGameDTO(game)})
}

func (h *GameHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.remover == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	gameID := pathParam(r, "gameID")
	if gameID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidGameID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	logger := h.log(r.Context(), "Delete", "server_id", serverID, "game_id", gameID)
	if err := h.remover.DeleteCustomGame(r.Context(), application.DeleteCustomGameParams{ServerID: serverID, UserID: userID, GameID: gameID}); err != nil {
		logger.WarnContext(r.Context(), "custom game delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "custom game deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type createGameRequest struct {
	Name string `json:"name"`
}

type gameResponse struct {
	Game gameDTO `json:"game"`
}

type listGamesResponse struct {
	Games []gameDTO `json:"games"`
}

type gameDTO struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	ServerID string `json:"server_id,omitempty"`
}

func toGameDTO(game application.Game) gameDTO {
	return gameDTO{
		Kind:     string(game.Ref.Kind),
		ID:       game.Ref.ID,
		Name:     game.Name,
		ServerID: game.ServerID,
	}
}

func toGameDTOs(games []application.Game) []gameDTO {
	out := make([]gameDTO, 0, len(games))
	for _, game := range games {
		out = append(out, toGameDTO(game))
	}
	return out
}
