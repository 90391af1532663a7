package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

// serverScope is the state every mutation is evaluated against: the server,
// the acting member and the cycle window at the time of the request.
type serverScope struct {
	server persistence.Server
	member persistence.ServerMember
	window cycle.Window
	now    time.Time
}

func (s serverScope) canManage() bool {
	return s.member.Role == persistence.RoleOwner || s.member.Role == persistence.RoleAdmin
}

func (s serverScope) cycleStart() *time.Time {
	start := s.window.Start
	return &start
}

func (s serverScope) userID() string {
	return s.member.UserID
}

// requireMember loads the server and the caller's membership. A missing server
// yields ErrNotFound and a non-member ErrPermissionDenied.
func requireMember(ctx context.Context, r persistence.Reader, serverID, userID string) (persistence.Server, persistence.ServerMember, error) {
	server, err := r.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Server{}, persistence.ServerMember{}, notFound("server", serverID)
		}
		return persistence.Server{}, persistence.ServerMember{}, err
	}
	member, err := r.GetMember(ctx, serverID, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Server{}, persistence.ServerMember{}, permissionDenied("not a member of this server")
		}
		return persistence.Server{}, persistence.ServerMember{}, err
	}
	return server, member, nil
}

func loadScope(ctx context.Context, r persistence.Reader, calc cycle.Calculator, serverID, userID string, now time.Time) (serverScope, error) {
	server, member, err := requireMember(ctx, r, serverID, userID)
	if err != nil {
		return serverScope{}, err
	}
	return serverScope{
		server: server,
		member: member,
		window: calc.Window(server.ResetTime, server.ResetPaused, now),
		now:    now,
	}, nil
}

// mapRepoError translates persistence sentinels into application errors.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return &ConflictError{Reason: "record already exists"}
	default:
		return err
	}
}
