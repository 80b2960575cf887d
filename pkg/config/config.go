package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig toggles the redis-backed run status store.
type CacheConfig struct {
	Enabled bool
}

// SchedulerConfig tunes the timetabling engine and its run queue.
type SchedulerConfig struct {
	PopulationSize    int           `validate:"min=2,max=5000"`
	Generations       int           `validate:"min=1"`
	MutationRate      float64       `validate:"gte=0,lte=1"`
	TournamentSize    int           `validate:"min=1,ltefield=PopulationSize"`
	EliteRatio        float64       `validate:"gte=0,lt=1"`
	GoodEnoughFitness float64       `validate:"lte=0"`
	AcceptableFitness float64       `validate:"ltefield=GoodEnoughFitness"`
	Workers           int           `validate:"min=0"`
	Seed              int64
	LogEvery          int           `validate:"min=0"`
	DefaultMethod     string        `validate:"oneof=genetic greedy hybrid"`
	RunTimeout        time.Duration `validate:"gt=0"`
	QueueWorkers      int           `validate:"min=1"`
	ResultTTL         time.Duration `validate:"gt=0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{Enabled: v.GetBool("ENABLE_CACHE")}

	cfg.Scheduler = SchedulerConfig{
		PopulationSize:    v.GetInt("SCHEDULER_POPULATION_SIZE"),
		Generations:       v.GetInt("SCHEDULER_GENERATIONS"),
		MutationRate:      v.GetFloat64("SCHEDULER_MUTATION_RATE"),
		TournamentSize:    v.GetInt("SCHEDULER_TOURNAMENT_SIZE"),
		EliteRatio:        v.GetFloat64("SCHEDULER_ELITE_RATIO"),
		GoodEnoughFitness: v.GetFloat64("SCHEDULER_GOOD_ENOUGH_FITNESS"),
		AcceptableFitness: v.GetFloat64("SCHEDULER_ACCEPTABLE_FITNESS"),
		Workers:           v.GetInt("SCHEDULER_WORKERS"),
		Seed:              v.GetInt64("SCHEDULER_SEED"),
		LogEvery:          v.GetInt("SCHEDULER_LOG_EVERY"),
		DefaultMethod:     strings.ToLower(strings.TrimSpace(v.GetString("SCHEDULER_DEFAULT_METHOD"))),
		RunTimeout:        parseDuration(v.GetString("SCHEDULER_RUN_TIMEOUT"), 5*time.Minute),
		QueueWorkers:      v.GetInt("SCHEDULER_QUEUE_WORKERS"),
		ResultTTL:         parseDuration(v.GetString("SCHEDULER_RESULT_TTL"), 24*time.Hour),
	}

	if err := validator.New().Struct(cfg.Scheduler); err != nil {
		return nil, fmt.Errorf("invalid scheduler configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)

	v.SetDefault("SCHEDULER_POPULATION_SIZE", 150)
	v.SetDefault("SCHEDULER_GENERATIONS", 300)
	v.SetDefault("SCHEDULER_MUTATION_RATE", 0.05)
	v.SetDefault("SCHEDULER_TOURNAMENT_SIZE", 5)
	v.SetDefault("SCHEDULER_ELITE_RATIO", 0.05)
	v.SetDefault("SCHEDULER_GOOD_ENOUGH_FITNESS", -10)
	v.SetDefault("SCHEDULER_ACCEPTABLE_FITNESS", -100)
	v.SetDefault("SCHEDULER_WORKERS", 0)
	v.SetDefault("SCHEDULER_SEED", 0)
	v.SetDefault("SCHEDULER_LOG_EVERY", 50)
	v.SetDefault("SCHEDULER_DEFAULT_METHOD", "genetic")
	v.SetDefault("SCHEDULER_RUN_TIMEOUT", "5m")
	v.SetDefault("SCHEDULER_QUEUE_WORKERS", 1)
	v.SetDefault("SCHEDULER_RESULT_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
