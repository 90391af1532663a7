package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/party-scheduler/internal/application"
	"github.com/example/party-scheduler/internal/persistence"
)

type serverService interface {
	CreateServer(ctx context.Context, params application.CreateServerParams) (persistence.Server, error)
	GetServer(ctx context.Context, serverID, userID string) (application.ServerView, error)
	UpdateSettings(ctx context.Context, params application.UpdateServerSettingsParams) (persistence.Server, error)
	JoinServer(ctx context.Context, params application.MembershipParams) (persistence.ServerMember, error)
	GrantAdmin(ctx context.Context, params application.RoleChangeParams) (persistence.ServerMember, error)
	RevokeAdmin(ctx context.Context, params application.RoleChangeParams) (persistence.ServerMember, error)
	ListMembers(ctx context.Context, serverID, userID string) ([]persistence.ServerMember, error)
}

// serverLeaver removes the caller and clears their entry and party memberships.
type serverLeaver interface {
	LeaveServer(ctx context.Context, params application.MembershipParams) error
}

type ServerHandler struct {
	service   serverService
	leaver    serverLeaver
	responder responder
	logger    *slog.Logger
}

func NewServerHandler(service serverService, leaver serverLeaver, logger *slog.Logger) *ServerHandler {
	base := defaultLogger(logger)
	return &ServerHandler{service: service, leaver: leaver, responder: newResponder(base), logger: base}
}

func (h *ServerHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ServerHandler", operation, attrs...)
}

func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	userID, _ := UserIDFromContext(r.Context())

	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode server request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create")
	server, err := h.service.CreateServer(r.Context(), application.CreateServerParams{
		UserID:     userID,
		Name:       strings.TrimSpace(req.Name),
		ResetTime:  strings.TrimSpace(req.ResetTime),
		MaxMembers: req.MaxMembers,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "server creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("server_id", server.ID).InfoContext(r.Context(), "server created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, serverResponse{Server: toServerDTO(server)})
}

func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	view, err := h.service.GetServer(r.Context(), serverID, userID)
	if err != nil {
		h.log(r.Context(), "Get", "server_id", serverID).WarnContext(r.Context(), "server lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, serverViewResponse{Server: toServerViewDTO(view)})
}

func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
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

	var req updateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "server_id", serverID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode settings update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Update", "server_id", serverID)
	server, err := h.service.UpdateSettings(r.Context(), req.toParams(serverID, userID))
	if err != nil {
		logger.WarnContext(r.Context(), "settings update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "server settings updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, serverResponse{Server: toServerDTO(server)})
}

func (h *ServerHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
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

	members, err := h.service.ListMembers(r.Context(), serverID, userID)
	if err != nil {
		h.log(r.Context(), "ListMembers", "server_id", serverID).WarnContext(r.Context(), "member list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listMembersResponse{Members: toMemberDTOs(members)})
}

func (h *ServerHandler) Join(w http.ResponseWriter, r *http.Request) {
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

	logger := h.log(r.Context(), "Join", "server_id", serverID)
	member, err := h.service.JoinServer(r.Context(), application.MembershipParams{ServerID: serverID, UserID: userID})
	if err != nil {
		logger.WarnContext(r.Context(), "server join failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "server joined")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, memberResponse{Member: toMemberDTO(member)})
}

func (h *ServerHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.leaver == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	logger := h.log(r.Context(), "Leave", "server_id", serverID)
	if err := h.leaver.LeaveServer(r.Context(), application.MembershipParams{ServerID: serverID, UserID: userID}); err != nil {
		logger.WarnContext(r.Context(), "server leave failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "server left")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ServerHandler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "GrantAdmin")
}

func (h *ServerHandler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "RevokeAdmin")
}

func (h *ServerHandler) changeRole(w http.ResponseWriter, r *http.Request, operation string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return
	}
	targetID := pathParam(r, "userID")
	if targetID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidUserID)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	params := application.RoleChangeParams{ServerID: serverID, UserID: userID, TargetUserID: targetID}
	logger := h.log(r.Context(), operation, "server_id", serverID, "target_user_id", targetID)

	var (
		member persistence.ServerMember
		err    error
	)
	if operation == "GrantAdmin" {
		member, err = h.service.GrantAdmin(r.Context(), params)
	} else {
		member, err = h.service.RevokeAdmin(r.Context(), params)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "role change failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("role", member.Role).InfoContext(r.Context(), "role changed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, memberResponse{Member: toMemberDTO(member)})
}

type createServerRequest struct {
	Name       string `json:"name"`
	ResetTime  string `json:"reset_time"`
	MaxMembers int    `json:"max_members"`
}

type updateServerRequest struct {
	Name        *string `json:"name"`
	ResetTime   *string `json:"reset_time"`
	ResetPaused *bool   `json:"reset_paused"`
	MaxMembers  *int    `json:"max_members"`
}

func (r updateServerRequest) toParams(serverID, userID string) application.UpdateServerSettingsParams {
	params := application.UpdateServerSettingsParams{
		ServerID:    serverID,
		UserID:      userID,
		ResetPaused: r.ResetPaused,
		MaxMembers:  r.MaxMembers,
	}
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		params.Name = &trimmed
	}
	if r.ResetTime != nil {
		trimmed := strings.TrimSpace(*r.ResetTime)
		params.ResetTime = &trimmed
	}
	return params
}

type serverResponse struct {
	Server serverDTO `json:"server"`
}

type serverViewResponse struct {
	Server serverViewDTO `json:"server"`
}

type memberResponse struct {
	Member memberDTO `json:"member"`
}

type listMembersResponse struct {
	Members []memberDTO `json:"members"`
}

type serverDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	ResetTime   string `json:"reset_time"`
	ResetPaused bool   `json:"reset_paused"`
	MaxMembers  int    `json:"max_members"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type serverViewDTO struct {
	serverDTO
	Role        string `json:"role"`
	MemberCount int    `json:"member_count"`
	CycleStart  string `json:"cycle_start"`
	CycleEnd    string `json:"cycle_end"`
}

type memberDTO struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

func toServerDTO(server persistence.Server) serverDTO {
	return serverDTO{
		ID:          server.ID,
		Name:        server.Name,
		OwnerID:     server.OwnerID,
		ResetTime:   server.ResetTime.String(),
		ResetPaused: server.ResetPaused,
		MaxMembers:  server.MaxMembers,
		CreatedAt:   formatTime(server.CreatedAt),
		UpdatedAt:   formatTime(server.UpdatedAt),
	}
}

func toServerViewDTO(view application.ServerView) serverViewDTO {
	return serverViewDTO{
		serverDTO:   toServerDTO(view.Server),
		Role:        string(view.Role),
		MemberCount: view.MemberCount,
		CycleStart:  formatTime(view.Cycle.Start),
		CycleEnd:    formatTime(view.Cycle.End),
	}
}

func toMemberDTO(member persistence.ServerMember) memberDTO {
	return memberDTO{
		UserID:   member.UserID,
		Role:     string(member.Role),
		JoinedAt: formatTime(member.JoinedAt),
	}
}

func toMemberDTOs(members []persistence.ServerMember) []memberDTO {
	out := make([]memberDTO, 0, len(members))
	for _, member := range members {
		out = append(out, toMemberDTO(member))
	}
	return out
}
