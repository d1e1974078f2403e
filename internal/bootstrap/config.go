package bootstrap

import (
	"fmt"
	"strings"
	"time"

	kafkaevents "collaborative-codehub/internal/infra/events/kafka"
	"collaborative-codehub/internal/infra/judge0"
	"collaborative-codehub/internal/infra/setup"
	"collaborative-codehub/internal/service"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	ServerPort string
	AppEnv     string // development / production
	LogLevel   string

	MySQL     setup.MySQLConfig
	Redis     setup.RedisConfig
	KeyPrefix string // Redis Key 前缀

	JWTSecret      string
	JWTExpiryHours int

	RateLimitMax    int
	RateLimitWindow time.Duration

	Debounce time.Duration

	Judge0 judge0.Config
	Kafka  kafkaevents.Config

	CORSAllowedOrigin string
	WSAllowedOrigins  []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "ch:")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "1s")
	v.SetDefault("CODE_DEBOUNCE", service.DefaultDebounce.String())
	v.SetDefault("JUDGE0_URL", "https://judge0-ce.p.rapidapi.com")
	v.SetDefault("JUDGE0_API_HOST", "judge0-ce.p.rapidapi.com")
	v.SetDefault("JUDGE0_POLL_INTERVAL", judge0.DefaultPollInterval.String())
	v.SetDefault("JUDGE0_MAX_ATTEMPTS", judge0.DefaultMaxAttempts)
	v.SetDefault("KAFKA_TOPIC", kafkaevents.DefaultTopic)
	v.SetDefault("KAFKA_CLIENT_ID", "codehub")
	v.SetDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return configFrom(v)
}

func configFrom(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerPort: v.GetString("SERVER_PORT"),
		AppEnv:     v.GetString("APP_ENV"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		MySQL: setup.MySQLConfig{
			User:     v.GetString("MYSQL_USER"),
			Password: v.GetString("MYSQL_PASSWORD"),
			Host:     v.GetString("MYSQL_HOST"),
			Port:     v.GetString("MYSQL_PORT"),
			Database: v.GetString("MYSQL_DATABASE"),
		},
		Redis: setup.RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		KeyPrefix:       v.GetString("REDIS_KEY_PREFIX"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		JWTExpiryHours:  v.GetInt("JWT_EXPIRY_HOURS"),
		RateLimitMax:    v.GetInt("RATE_LIMIT_MAX"),
		RateLimitWindow: v.GetDuration("RATE_LIMIT_WINDOW"),
		Debounce:        v.GetDuration("CODE_DEBOUNCE"),
		Judge0: judge0.Config{
			BaseURL:      v.GetString("JUDGE0_URL"),
			APIKey:       v.GetString("JUDGE0_API_KEY"),
			APIHost:      v.GetString("JUDGE0_API_HOST"),
			PollInterval: v.GetDuration("JUDGE0_POLL_INTERVAL"),
			MaxAttempts:  v.GetInt("JUDGE0_MAX_ATTEMPTS"),
		},
		Kafka: kafkaevents.Config{
			Brokers:  splitList(v.GetString("KAFKA_BROKERS")),
			Topic:    v.GetString("KAFKA_TOPIC"),
			ClientID: v.GetString("KAFKA_CLIENT_ID"),
			Username: v.GetString("KAFKA_USERNAME"),
			Password: v.GetString("KAFKA_PASSWORD"),
		},
		CORSAllowedOrigin: v.GetString("CORS_ALLOWED_ORIGIN"),
		WSAllowedOrigins:  splitList(v.GetString("WS_ALLOWED_ORIGINS")),
	}

	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.Debounce <= 0 {
		return nil, fmt.Errorf("CODE_DEBOUNCE must be a positive duration")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
