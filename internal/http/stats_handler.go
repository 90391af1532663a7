package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/party-scheduler/internal/application"
)

type statsService interface {
	Today(ctx context.Context, serverID string) (application.TodayStats, error)
	Weekly(ctx context.Context, serverID string) (application.WeeklyStats, error)
}

// memberLookup authorizes stats reads; only members may see a server's aggregates.
type memberLookup interface {
	GetServer(ctx context.Context, serverID, userID string) (application.ServerView, error)
}

type StatsHandler struct {
	stats     statsService
	members   memberLookup
	responder responder
	logger    *slog.Logger
}

func NewStatsHandler(stats statsService, members memberLookup, logger *slog.Logger) *StatsHandler {
	base := defaultLogger(logger)
	return &StatsHandler{stats: stats, members: members, responder: newResponder(base), logger: base}
}

func (h *StatsHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "StatsHandler", operation, attrs...)
}

func (h *StatsHandler) Today(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.authorize(w, r, "Today")
	if !ok {
		return
	}

	stats, err := h.stats.Today(r.Context(), serverID)
	if err != nil {
		h.log(r.Context(), "Today", "server_id", serverID).WarnContext(r.Context(), "today stats failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, todayStatsResponse{Stats: toTodayStatsDTO(stats)})
}

func (h *StatsHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.authorize(w, r, "Weekly")
	if !ok {
		return
	}

	stats, err := h.stats.Weekly(r.Context(), serverID)
	if err != nil {
		h.log(r.Context(), "Weekly", "server_id", serverID).WarnContext(r.Context(), "weekly stats failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, weeklyStatsResponse{Stats: toWeeklyStatsDTO(stats)})
}

func (h *StatsHandler) authorize(w http.ResponseWriter, r *http.Request, operation string) (string, bool) {
	if h == nil || h.stats == nil || h.members == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}

	serverID := pathParam(r, "id")
	if serverID == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidServerID)
		return "", false
	}
	userID, _ := UserIDFromContext(r.Context())

	if _, err := h.members.GetServer(r.Context(), serverID, userID); err != nil {
		h.log(r.Context(), operation, "server_id", serverID).WarnContext(r.Context(), "stats access rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return "", false
	}
	return serverID, true
}

type todayStatsResponse struct {
	Stats todayStatsDTO `json:"stats"`
}

type weeklyStatsResponse struct {
	Stats weeklyStatsDTO `json:"stats"`
}

type gameCountDTO struct {
	Game  gameRefDTO `json:"game"`
	Count int        `json:"count"`
}

type todayStatsDTO struct {
	CycleStart    string        `json:"cycle_start"`
	SampleCount   int           `json:"sample_count"`
	TopGame       *gameCountDTO `json:"top_game"`
	AvgJoinTime   string        `json:"avg_join_time,omitempty"`
	HourlyCounts  []int         `json:"hourly_counts"`
	PeakHour      int           `json:"peak_hour"`
	PeakHourCount int           `json:"peak_hour_count"`
}

type userCountDTO struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type gameTallyDTO struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type weekdayDTO struct {
	Day         string         `json:"day"`
	AvgJoinTime string         `json:"avg_join_time,omitempty"`
	SampleCount int            `json:"sample_count"`
	Games       []gameTallyDTO `json:"games"`
}

type weeklyStatsDTO struct {
	WindowStart string         `json:"window_start"`
	WindowEnd   string         `json:"window_end"`
	SampleCount int            `json:"sample_count"`
	TopUsers    []userCountDTO `json:"top_users"`
	Days        []weekdayDTO   `json:"days"`
}

// clockTime renders minutes since local midnight as HH:MM.
func clockTime(minuteOfDay int) string {
	return fmt.Sprintf("%02d:%02d", minuteOfDay/60, minuteOfDay%60)
}

func toTodayStatsDTO(stats application.TodayStats) todayStatsDTO {
	out := todayStatsDTO{
		CycleStart:    formatTime(stats.CycleStart),
		SampleCount:   stats.SampleCount,
		HourlyCounts:  append([]int(nil), stats.HourlyCounts[:]...),
		PeakHour:      stats.PeakHour,
		PeakHourCount: stats.PeakHourCount,
	}
	if stats.SampleCount > 0 {
		out.TopGame = &gameCountDTO{Game: toGameRefDTO(stats.TopGame.Ref, stats.TopGame.Name), Count: stats.TopGame.Count}
		out.AvgJoinTime = clockTime(stats.AvgMinuteOfDay)
	}
	return out
}

func toWeeklyStatsDTO(stats application.WeeklyStats) weeklyStatsDTO {
	out := weeklyStatsDTO{
		WindowStart: formatTime(stats.Window.Start),
		WindowEnd:   formatTime(stats.Window.End),
		SampleCount: stats.SampleCount,
		TopUsers:    make([]userCountDTO, 0, len(stats.TopUsers)),
		Days:        make([]weekdayDTO, 0, len(stats.DayAverages)),
	}
	for _, user := range stats.TopUsers {
		out.TopUsers = append(out.TopUsers, userCountDTO{UserID: user.UserID, Count: user.Count})
	}
	for day, avg := range stats.DayAverages {
		dto := weekdayDTO{
			Day:         time.Weekday(day).String(),
			SampleCount: avg.SampleCount,
			Games:       make([]gameTallyDTO, 0, len(stats.DayGames[day])),
		}
		if avg.SampleCount > 0 {
			dto.AvgJoinTime = clockTime(avg.AvgMinuteOfDay)
		}
		for _, tally := range stats.DayGames[day] {
			dto.Games = append(dto.Games, gameTallyDTO{Name: tally.Name, Count: tally.Count})
		}
		out.Days = append(out.Days, dto)
	}
	return out
}
