// Package config loads the scheduler service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone names resolve without system tzdata

	"github.com/joho/godotenv"

	"github.com/example/party-scheduler/internal/cycle"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config captures environment driven configuration values for the scheduler service.
type Config struct {
	HTTPPort         int
	Storage          string
	SQLiteDSN        string
	Location         *time.Location
	DefaultResetTime cycle.ResetTime
	JWTSecret        string
	JWTIssuer        string
	Redis            RedisConfig
	JoinRetries      int
	StatsCacheTTL    time.Duration
	Retention        time.Duration
	PurgeInterval    time.Duration
	CORSOrigins      []string
	DefaultGames     []string
	LogLevel         slog.Level
}

// RedisConfig enables the Redis event publisher when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	History  int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

var defaultGames = []string{"Valorant", "League of Legends", "Overwatch 2", "Apex Legends", "Minecraft"}

// Load reads an optional .env file from the working directory and then parses
// the process environment. Values already present in the environment win.
func Load() (Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv paths. Missing files are ignored.
func LoadFiles(paths ...string) (Config, error) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return parse(os.Getenv)
}

// parse applies defaults for optional fields and reports every missing and
// invalid variable in a single error.
func parse(getenv func(string) string) (Config, error) {
	cfg := Config{
		HTTPPort:         8080,
		Storage:          StorageSQLite,
		SQLiteDSN:        "data/scheduler.db",
		Location:         time.UTC,
		DefaultResetTime: cycle.ResetTime{Hour: 6},
		Redis:            RedisConfig{Channel: "scheduler:events", History: 50},
		JoinRetries:      3,
		StatsCacheTTL:    30 * time.Second,
		Retention:        30 * 24 * time.Hour,
		PurgeInterval:    time.Hour,
		DefaultGames:     append([]string(nil), defaultGames...),
		LogLevel:         slog.LevelInfo,
	}

	var missing, invalid []string
	get := func(key string) string {
		return strings.TrimSpace(getenv("SCHEDULER_" + key))
	}
	positiveInt := func(key string, dest *int, allowZero bool) {
		value := get(key)
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || (n == 0 && !allowZero) {
			invalid = append(invalid, "SCHEDULER_"+key)
			return
		}
		*dest = n
	}
	duration := func(key string, dest *time.Duration) {
		value := get(key)
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			invalid = append(invalid, "SCHEDULER_"+key)
			return
		}
		*dest = d
	}

	positiveInt("HTTP_PORT", &cfg.HTTPPort, false)

	if storage := strings.ToLower(get("STORAGE")); storage != "" {
		switch storage {
		case StorageMemory, StorageSQLite:
			cfg.Storage = storage
		default:
			invalid = append(invalid, "SCHEDULER_STORAGE")
		}
	}
	if dsn := get("SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if tz := get("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "SCHEDULER_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}
	if reset := get("DEFAULT_RESET_TIME"); reset != "" {
		rt, err := cycle.ParseResetTime(reset)
		if err != nil {
			invalid = append(invalid, "SCHEDULER_DEFAULT_RESET_TIME")
		} else {
			cfg.DefaultResetTime = rt
		}
	}

	if secret := get("JWT_SECRET"); secret == "" {
		missing = append(missing, "SCHEDULER_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}
	cfg.JWTIssuer = get("JWT_ISSUER")

	cfg.Redis.Addr = get("REDIS_ADDR")
	cfg.Redis.Password = getenv("SCHEDULER_REDIS_PASSWORD")
	positiveInt("REDIS_DB", &cfg.Redis.DB, true)
	if channel := get("REDIS_CHANNEL"); channel != "" {
		cfg.Redis.Channel = channel
	}
	positiveInt("REDIS_HISTORY", &cfg.Redis.History, true)

	positiveInt("JOIN_RETRIES", &cfg.JoinRetries, false)
	duration("STATS_CACHE_TTL", &cfg.StatsCacheTTL)
	duration("RETENTION", &cfg.Retention)
	duration("PURGE_INTERVAL", &cfg.PurgeInterval)

	if origins := get("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if games := get("DEFAULT_GAMES"); games != "" {
		cfg.DefaultGames = splitList(games)
	}

	if level := get("LOG_LEVEL"); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		problems = append(problems, "invalid environment variables: "+strings.Join(invalid, ", "))
	}
	if len(problems) > 0 {
		return Config{}, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
