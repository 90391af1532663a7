package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/party-scheduler/internal/cycle"
	"github.com/example/party-scheduler/internal/persistence"
)

const weeklyCycles = 7

// GameCount reports how many samples picked a game.
type GameCount struct {
	Ref   persistence.GameRef
	Name  string
	Count int
}

// TodayStats aggregates the current cycle.
type TodayStats struct {
	CycleStart     time.Time
	SampleCount    int
	TopGame        GameCount
	AvgMinuteOfDay int
	// HourlyCounts[H] counts samples whose local slot hour is at most H.
	HourlyCounts  [24]int
	PeakHour      int
	PeakHourCount int
}

// UserCount reports how many samples a user contributed.
type UserCount struct {
	UserID string
	Count  int
}

// DayAverage is the mean join time of one weekday.
type DayAverage struct {
	AvgMinuteOfDay int
	SampleCount    int
}

// GameTally counts samples per game name.
type GameTally struct {
	Name  string
	Count int
}

// WeeklyStats aggregates the trailing seven cycles. Day arrays are indexed Sunday=0.
type WeeklyStats struct {
	Window      cycle.Window
	SampleCount int
	TopUsers    []UserCount
	DayAverages [7]DayAverage
	DayGames    [7][]GameTally
}

func (w WeeklyStats) clone() WeeklyStats {
	out := w
	out.TopUsers = append([]UserCount(nil), w.TopUsers...)
	for day := range w.DayGames {
		out.DayGames[day] = append([]GameTally(nil), w.DayGames[day]...)
	}
	return out
}

// sample is one scheduled join: a standalone entry or one member of a party.
type sample struct {
	id     string
	userID string
	slot   time.Time
	game   persistence.GameRef
}

// StatsAggregator derives read-only statistics from entries and parties.
type StatsAggregator struct {
	store  persistence.Reader
	games  *GameCatalog
	calc   cycle.Calculator
	now    func() time.Time
	cache  *statsCache
	logger *slog.Logger
}

// NewStatsAggregator wires dependencies for statistics. A cacheTTL of zero uses the default.
func NewStatsAggregator(store persistence.Reader, games *GameCatalog, calc cycle.Calculator, now func() time.Time, cacheTTL time.Duration, logger *slog.Logger) *StatsAggregator {
	if now == nil {
		now = time.Now
	}
	return &StatsAggregator{
		store:  store,
		games:  games,
		calc:   calc,
		now:    now,
		cache:  newStatsCache(cacheTTL, 0, now),
		logger: defaultLogger(logger),
	}
}

// Invalidate drops cached aggregates for serverID.
func (a *StatsAggregator) Invalidate(serverID string) {
	if a == nil {
		return
	}
	a.cache.Invalidate(serverID)
}

// InvalidateAll drops every cached aggregate.
func (a *StatsAggregator) InvalidateAll() {
	if a == nil {
		return
	}
	a.cache.InvalidateAll()
}

// Today aggregates the current cycle's entries and party members.
func (a *StatsAggregator) Today(ctx context.Context, serverID string) (TodayStats, error) {
	if a == nil {
		return TodayStats{}, errors.New("StatsAggregator is nil")
	}
	server, err := a.server(ctx, serverID)
	if err != nil {
		return TodayStats{}, err
	}
	start := a.calc.Start(server.ResetTime, server.ResetPaused, a.now())
	key := statsCacheKey(serverID, "today", start)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(TodayStats), nil
	}

	entries, err := a.store.ListEntries(ctx, persistence.EntryFilter{ServerID: serverID, CycleStart: &start})
	if err != nil {
		return TodayStats{}, err
	}
	parties, err := a.store.ListParties(ctx, persistence.PartyFilter{ServerID: serverID, CycleStart: &start})
	if err != nil {
		return TodayStats{}, err
	}
	names, err := a.games.names(ctx, a.store, serverID)
	if err != nil {
		return TodayStats{}, err
	}

	stats := a.today(collectSamples(entries, parties), names)
	stats.CycleStart = start
	a.cache.Store(key, stats)
	serviceLogger(ctx, a.logger, "stats", "today", "server_id", serverID).DebugContext(ctx, "today stats computed", "samples", stats.SampleCount)
	return stats, nil
}

func (a *StatsAggregator) today(samples []sample, names map[string]string) TodayStats {
	stats := TodayStats{SampleCount: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	counts := make(map[string]int)
	minutes := 0
	for _, s := range samples {
		key := s.game.Key()
		counts[key]++
		if counts[key] > stats.TopGame.Count {
			stats.TopGame = GameCount{Ref: s.game, Name: gameName(names, s.game), Count: counts[key]}
		}
		minutes += a.calc.MinuteOfDay(s.slot)
		for hour := a.calc.Hour(s.slot); hour < 24; hour++ {
			stats.HourlyCounts[hour]++
		}
	}
	stats.AvgMinuteOfDay = minutes / len(samples)

	for hour, count := range stats.HourlyCounts {
		if count > stats.PeakHourCount {
			stats.PeakHour = hour
			stats.PeakHourCount = count
		}
	}
	return stats
}

// Weekly aggregates samples whose slot falls inside the trailing seven cycles.
// The pause flag is ignored so history stays bucketed by the reset time.
func (a *StatsAggregator) Weekly(ctx context.Context, serverID string) (WeeklyStats, error) {
	if a == nil {
		return WeeklyStats{}, errors.New("StatsAggregator is nil")
	}
	server, err := a.server(ctx, serverID)
	if err != nil {
		return WeeklyStats{}, err
	}
	window := a.calc.Trailing(server.ResetTime, a.now(), weeklyCycles)
	key := statsCacheKey(serverID, "weekly", window.Start)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(WeeklyStats).clone(), nil
	}

	entries, err := a.store.ListEntries(ctx, persistence.EntryFilter{ServerID: serverID, SlotFrom: &window.Start, SlotTo: &window.End})
	if err != nil {
		return WeeklyStats{}, err
	}
	parties, err := a.store.ListParties(ctx, persistence.PartyFilter{ServerID: serverID, SlotFrom: &window.Start, SlotTo: &window.End})
	if err != nil {
		return WeeklyStats{}, err
	}
	names, err := a.games.names(ctx, a.store, serverID)
	if err != nil {
		return WeeklyStats{}, err
	}

	stats := a.weekly(collectSamples(entries, parties), names)
	stats.Window = window
	a.cache.Store(key, stats)
	serviceLogger(ctx, a.logger, "stats", "weekly", "server_id", serverID).DebugContext(ctx, "weekly stats computed", "samples", stats.SampleCount)
	return stats.clone(), nil
}

func (a *StatsAggregator) weekly(samples []sample, names map[string]string) WeeklyStats {
	stats := WeeklyStats{SampleCount: len(samples)}

	perUser := make(map[string]int)
	var minuteSums [7]int
	var dayGames [7]map[string]int
	for _, s := range samples {
		perUser[s.userID]++
		day := int(a.calc.Weekday(s.slot))
		minuteSums[day] += a.calc.MinuteOfDay(s.slot)
		stats.DayAverages[day].SampleCount++
		if dayGames[day] == nil {
			dayGames[day] = make(map[string]int)
		}
		dayGames[day][gameName(names, s.game)]++
	}

	for userID, count := range perUser {
		stats.TopUsers = append(stats.TopUsers, UserCount{UserID: userID, Count: count})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].Count == stats.TopUsers[j].Count {
			return stats.TopUsers[i].UserID < stats.TopUsers[j].UserID
		}
		return stats.TopUsers[i].Count > stats.TopUsers[j].Count
	})
	if len(stats.TopUsers) > 3 {
		stats.TopUsers = stats.TopUsers[:3]
	}

	for day := range stats.DayAverages {
		if n := stats.DayAverages[day].SampleCount; n > 0 {
			stats.DayAverages[day].AvgMinuteOfDay = minuteSums[day] / n
		}
		for name, count := range dayGames[day] {
			stats.DayGames[day] = append(stats.DayGames[day], GameTally{Name: name, Count: count})
		}
		tallies := stats.DayGames[day]
		sort.Slice(tallies, func(i, j int) bool {
			if tallies[i].Count == tallies[j].Count {
				return tallies[i].Name < tallies[j].Name
			}
			return tallies[i].Count > tallies[j].Count
		})
	}
	return stats
}

func (a *StatsAggregator) server(ctx context.Context, serverID string) (persistence.Server, error) {
	server, err := a.store.GetServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Server{}, notFound("server", serverID)
		}
		return persistence.Server{}, err
	}
	return server, nil
}

// collectSamples flattens entries and party members into samples ordered by id.
// A party member's sample id is the party id followed by "/" and the member's
// zero padded join position, so members of one party keep their join order.
func collectSamples(entries []persistence.TimetableEntry, parties []persistence.Party) []sample {
	samples := make([]sample, 0, len(entries))
	for _, entry := range entries {
		samples = append(samples, sample{id: entry.ID, userID: entry.UserID, slot: entry.Slot, game: entry.Game})
	}
	for _, party := range parties {
		for position, member := range party.Members {
			samples = append(samples, sample{id: fmt.Sprintf("%s/%06d", party.ID, position), userID: member, slot: party.Slot, game: party.Game})
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].id < samples[j].id })
	return samples
}
