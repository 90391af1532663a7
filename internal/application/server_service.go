package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// ServerView is a server as seen by one of its members.
type ServerView struct {
	persistence.Server
	Role        persistence.Role
	MemberCount int
	Cycle       cycle.Window
}

// ServerService manages servers and their membership.
type ServerService struct {
	store        persistence.Store
	calc         cycle.Calculator
	gate         *KeyedMutex
	stats        *StatsAggregator
	defaultReset cycle.ResetTime
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewServerService wires dependencies for server operations. gate must be the
// one shared with the Engine so settings changes serialize with reconciliation.
func NewServerService(store persistence.Store, calc cycle.Calculator, gate *KeyedMutex, stats *StatsAggregator, defaultReset cycle.ResetTime, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ServerService {
	if gate == nil {
		gate = NewKeyedMutex()
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ServerService{
		store:        store,
		calc:         calc,
		gate:         gate,
		stats:        stats,
		defaultReset: defaultReset,
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

// CreateServer creates a server owned by the caller, who becomes its first member.
func (s *ServerService) CreateServer(ctx context.Context, params CreateServerParams) (persistence.Server, error) {
	if s == nil {
		return persistence.Server{}, errors.New("ServerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "servers", "create_server", "user_id", params.UserID)

	params.Name = strings.TrimSpace(params.Name)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "server creation")
		return persistence.Server{}, err
	}

	reset := s.defaultReset
	if params.ResetTime != "" {
		reset = cycle.MustParseResetTime(params.ResetTime)
	}
	now := s.now().UTC()
	server := persistence.Server{
		ID:         s.idGenerator(),
		Name:       params.Name,
		OwnerID:    params.UserID,
		ResetTime:  reset,
		MaxMembers: params.MaxMembers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.CreateServer(ctx, server); err != nil {
			return mapRepoError(err)
		}
		return mapRepoError(tx.AddMember(ctx, persistence.ServerMember{
			ServerID: server.ID,
			UserID:   params.UserID,
			Role:     persistence.RoleOwner,
			JoinedAt: now,
		}))
	})
	logOutcome(ctx, logger, err, "server creation", "server_id", server.ID)
	if err != nil {
		return persistence.Server{}, err
	}
	return server, nil
}

// GetServer returns the server together with the caller's role and the current cycle.
func (s *ServerService) GetServer(ctx context.Context, serverID, userID string) (ServerView, error) {
	if s == nil {
		return ServerView{}, errors.New("ServerService is nil")
	}
	server, member, err := requireMember(ctx, s.store, serverID, userID)
	if err != nil {
		return ServerView{}, err
	}
	count, err := s.store.CountMembers(ctx, serverID)
	if err != nil {
		return ServerView{}, err
	}
	return ServerView{
		Server:      server,
		Role:        member.Role,
		MemberCount: count,
		Cycle:       s.calc.Window(server.ResetTime, server.ResetPaused, s.now()),
	}, nil
}

// UpdateSettings changes the name, reset time, pause flag or member limit.
// Only owners and admins may do so.
func (s *ServerService) UpdateSettings(ctx context.Context, params UpdateServerSettingsParams) (persistence.Server, error) {
	if s == nil {
		return persistence.Server{}, errors.New("ServerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "servers", "update_settings", "server_id", params.ServerID, "user_id", params.UserID)

	if params.Name != nil {
		trimmed := strings.TrimSpace(*params.Name)
		params.Name = &trimmed
	}
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "server settings update")
		return persistence.Server{}, err
	}

	unlock := s.gate.Lock(params.ServerID)
	defer unlock()

	var updated persistence.Server
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		server, member, err := requireMember(ctx, tx, params.ServerID, params.UserID)
		if err != nil {
			return err
		}
		if member.Role != persistence.RoleOwner && member.Role != persistence.RoleAdmin {
			return permissionDenied("only owners and admins change server settings")
		}
		before := server
		if params.Name != nil {
			server.Name = *params.Name
		}
		if params.ResetTime != nil {
			server.ResetTime = cycle.MustParseResetTime(*params.ResetTime)
		}
		if params.ResetPaused != nil {
			server.ResetPaused = *params.ResetPaused
		}
		if params.MaxMembers != nil {
			server.MaxMembers = *params.MaxMembers
		}
		now := s.now()
		server.UpdatedAt = now.UTC()
		if err := tx.UpdateServer(ctx, server); err != nil {
			return mapRepoError(err)
		}
		if err := rekeyCycles(ctx, tx, s.calc, before, server, now); err != nil {
			return err
		}
		updated = server
		return nil
	})
	logOutcome(ctx, logger, err, "server settings update")
	if err != nil {
		return persistence.Server{}, err
	}
	s.stats.Invalidate(params.ServerID)
	return updated, nil
}

// JoinServer adds the caller as a regular member. Joining twice returns the existing membership.
func (s *ServerService) JoinServer(ctx context.Context, params MembershipParams) (persistence.ServerMember, error) {
	if s == nil {
		return persistence.ServerMember{}, errors.New("ServerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "servers", "join_server", "server_id", params.ServerID, "user_id", params.UserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "server join")
		return persistence.ServerMember{}, err
	}

	unlock := s.gate.Lock(params.ServerID)
	defer unlock()

	var member persistence.ServerMember
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		server, err := tx.GetServer(ctx, params.ServerID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return notFound("server", params.ServerID)
			}
			return err
		}
		existing, err := tx.GetMember(ctx, params.ServerID, params.UserID)
		if err == nil {
			member = existing
			return nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		if server.MaxMembers > 0 {
			count, err := tx.CountMembers(ctx, params.ServerID)
			if err != nil {
				return err
			}
			if count >= server.MaxMembers {
				return &CapacityExceededError{Resource: "server", ID: server.ID, Capacity: server.MaxMembers}
			}
		}
		member = persistence.ServerMember{
			ServerID: params.ServerID,
			UserID:   params.UserID,
			Role:     persistence.RoleMember,
			JoinedAt: s.now().UTC(),
		}
		return mapRepoError(tx.AddMember(ctx, member))
	})
	logOutcome(ctx, logger, err, "server join")
	if err != nil {
		return persistence.ServerMember{}, err
	}
	return member, nil
}

// GrantAdmin promotes a member to admin. Owner only.
func (s *ServerService) GrantAdmin(ctx context.Context, params RoleChangeParams) (persistence.ServerMember, error) {
	return s.changeRole(ctx, params, persistence.RoleAdmin, "grant_admin")
}

// RevokeAdmin demotes an admin to a regular member. Owner only.
func (s *ServerService) RevokeAdmin(ctx context.Context, params RoleChangeParams) (persistence.ServerMember, error) {
	return s.changeRole(ctx, params, persistence.RoleMember, "revoke_admin")
}

func (s *ServerService) changeRole(ctx context.Context, params RoleChangeParams, role persistence.Role, operation string) (persistence.ServerMember, error) {
	if s == nil {
		return persistence.ServerMember{}, errors.New("ServerService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "servers", operation, "server_id", params.ServerID, "user_id", params.UserID, "target_user_id", params.TargetUserID)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "role change")
		return persistence.ServerMember{}, err
	}

	var target persistence.ServerMember
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		_, actor, err := requireMember(ctx, tx, params.ServerID, params.UserID)
		if err != nil {
			return err
		}
		if actor.Role != persistence.RoleOwner {
			return permissionDenied("only the owner manages admins")
		}
		target, err = tx.GetMember(ctx, params.ServerID, params.TargetUserID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return notFound("member", params.TargetUserID)
			}
			return err
		}
		if target.Role == persistence.RoleOwner {
			return permissionDenied("the owner's role cannot change")
		}
		target.Role = role
		return mapRepoError(tx.UpdateMember(ctx, target))
	})
	logOutcome(ctx, logger, err, "role change", "role", role)
	if err != nil {
		return persistence.ServerMember{}, err
	}
	return target, nil
}

// ListMembers returns the server's members ordered by join time.
func (s *ServerService) ListMembers(ctx context.Context, serverID, userID string) ([]persistence.ServerMember, error) {
	if s == nil {
		return nil, errors.New("ServerService is nil")
	}
	if _, _, err := requireMember(ctx, s.store, serverID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, serverID)
}
