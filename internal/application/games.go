package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/example/party-scheduler/internal/persistence"
)

// GameCatalog resolves game references and manages server scoped games.
type GameCatalog struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewGameCatalog wires dependencies for catalog operations.
func NewGameCatalog(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *GameCatalog {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &GameCatalog{
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// Resolve returns the named game behind ref as visible from serverID.
func (c *GameCatalog) Resolve(ctx context.Context, serverID string, ref persistence.GameRef) (Game, error) {
	return c.resolveWith(ctx, c.store, serverID, ref)
}

func (c *GameCatalog) resolveWith(ctx context.Context, r persistence.Reader, serverID string, ref persistence.GameRef) (Game, error) {
	switch ref.Kind {
	case persistence.GameKindDefault:
		game, err := r.GetDefaultGame(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return Game{}, notFound("game", ref.ID)
			}
			return Game{}, err
		}
		return Game{Ref: ref, Name: game.Name}, nil
	case persistence.GameKindCustom:
		game, err := r.GetCustomGame(ctx, ref.ID)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return Game{}, notFound("game", ref.ID)
			}
			return Game{}, err
		}
		if game.ServerID != serverID {
			return Game{}, notFound("game", ref.ID)
		}
		return Game{Ref: ref, Name: game.Name, ServerID: game.ServerID}, nil
	default:
		return Game{}, validationFailure("game_kind", "game kind must be one of: default, custom")
	}
}

// names maps GameRef keys to display names for every game visible in serverID.
func (c *GameCatalog) names(ctx context.Context, r persistence.Reader, serverID string) (map[string]string, error) {
	games, err := c.listWith(ctx, r, serverID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(games))
	for _, game := range games {
		out[game.Ref.Key()] = game.Name
	}
	return out, nil
}

func (c *GameCatalog) listWith(ctx context.Context, r persistence.Reader, serverID string) ([]Game, error) {
	defaults, err := r.ListDefaultGames(ctx)
	if err != nil {
		return nil, err
	}
	custom, err := r.ListCustomGames(ctx, serverID)
	if err != nil {
		return nil, err
	}
	games := make([]Game, 0, len(defaults)+len(custom))
	for _, game := range defaults {
		games = append(games, Game{Ref: persistence.GameRef{Kind: persistence.GameKindDefault, ID: game.ID}, Name: game.Name})
	}
	for _, game := range custom {
		games = append(games, Game{Ref: persistence.GameRef{Kind: persistence.GameKindCustom, ID: game.ID}, Name: game.Name, ServerID: game.ServerID})
	}
	return games, nil
}

// List returns the default catalog followed by the server's custom games.
func (c *GameCatalog) List(ctx context.Context, serverID, userID string) ([]Game, error) {
	if c == nil {
		return nil, errors.New("GameCatalog is nil")
	}
	if _, _, err := requireMember(ctx, c.store, serverID, userID); err != nil {
		return nil, err
	}
	return c.listWith(ctx, c.store, serverID)
}

// CreateCustomGame adds a server scoped game. Only owners and admins may do so.
func (c *GameCatalog) CreateCustomGame(ctx context.Context, params CreateCustomGameParams) (Game, error) {
	if c == nil {
		return Game{}, errors.New("GameCatalog is nil")
	}
	logger := serviceLogger(ctx, c.logger, "game_catalog", "create_custom_game", "server_id", params.ServerID, "user_id", params.UserID)

	params.Name = strings.TrimSpace(params.Name)
	if err := validateParams(params); err != nil {
		logOutcome(ctx, logger, err, "custom game creation")
		return Game{}, err
	}

	game := persistence.CustomGame{
		ID:        c.idGenerator(),
		ServerID:  params.ServerID,
		Name:      params.Name,
		CreatedBy: params.UserID,
		CreatedAt: c.now().UTC(),
	}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		_, member, err := requireMember(ctx, tx, params.ServerID, params.UserID)
		if err != nil {
			return err
		}
		if member.Role != persistence.RoleOwner && member.Role != persistence.RoleAdmin {
			return permissionDenied("only owners and admins manage games")
		}
		if err := tx.CreateCustomGame(ctx, game); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				return &ConflictError{Reason: "a game with this name already exists"}
			}
			return err
		}
		return nil
	})
	logOutcome(ctx, logger, err, "custom game creation", "game_id", game.ID)
	if err != nil {
		return Game{}, err
	}
	return Game{Ref: persistence.GameRef{Kind: persistence.GameKindCustom, ID: game.ID}, Name: game.Name, ServerID: game.ServerID}, nil
}

// SeedDefaults upserts the global catalog.
func (c *GameCatalog) SeedDefaults(ctx context.Context, games []persistence.DefaultGame) error {
	if c == nil {
		return errors.New("GameCatalog is nil")
	}
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		for _, game := range games {
			if err := tx.UpsertDefaultGame(ctx, game); err != nil {
				return err
			}
		}
		return nil
	})
	logOutcome(ctx, serviceLogger(ctx, c.logger, "game_catalog", "seed_defaults"), err, "default games seeded", "count", len(games))
	return err
}

// DefaultGamesFromNames derives catalog entries with slug identifiers from display names.
func DefaultGamesFromNames(names []string) []persistence.DefaultGame {
	games := make([]persistence.DefaultGame, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		id := slug(name)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		games = append(games, persistence.DefaultGame{ID: id, Name: name})
	}
	return games
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
