package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort       string `mapstructure:"app_port"`
	AppMode       string `mapstructure:"app_mode"`
	DBHost        string `mapstructure:"db_host"`
	DBUser        string `mapstructure:"db_user"`
	DBPassword    string `mapstructure:"db_password"`
	DBName        string `mapstructure:"db_name"`
	DBPort        string `mapstructure:"db_port"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     string `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Realtime tuning
	RingTimeout          time.Duration `mapstructure:"ring_timeout"`
	PongWait             time.Duration `mapstructure:"pong_wait"`
	WriteWait            time.Duration `mapstructure:"write_wait"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	SendBuffer           int           `mapstructure:"send_buffer"`
	PresenceTTL          time.Duration `mapstructure:"presence_ttl"`
	ConversationCacheTTL time.Duration `mapstructure:"conversation_cache_ttl"`
	MessageFeedEnabled   bool          `mapstructure:"message_feed_enabled"`
	MessageFeedChannel   string        `mapstructure:"message_feed_channel"`
	JanitorSchedule      string        `mapstructure:"janitor_schedule"`
	CallRateLimit        int           `mapstructure:"call_rate_limit"`
	WSRateLimit          int           `mapstructure:"ws_rate_limit"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"app_port":               "8080",
	"app_mode":               "debug",
	"db_host":                "localhost",
	"db_user":                "postgres",
	"db_password":            "postgres",
	"db_name":                "hr_suite",
	"db_port":                "5432",
	"jwt_secret":             "change-me",
	"redis_host":             "localhost",
	"redis_port":             "6379",
	"redis_password":         "",
	"redis_db":               0,
	"ring_timeout":           "30s",
	"pong_wait":              "60s",
	"write_wait":             "10s",
	"max_message_size":       512 * 1024,
	"send_buffer":            256,
	"presence_ttl":           "5m",
	"conversation_cache_ttl": "5m",
	"message_feed_enabled":   false,
	"message_feed_channel":   "channel:system:messages",
	"janitor_schedule":       "@every 30s",
	"call_rate_limit":        10,
	"ws_rate_limit":          10,
	"allowed_origins":        []string{"*"},
}

// LoadConfig reads .env (if present), the optional YAML file named by
// CONFIG_FILE and the process environment, in increasing precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// Unmarshal only picks up env values for explicitly bound keys.
		_ = v.BindEnv(key, strings.ToUpper(key))
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DatabaseDSN builds the Postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) IsProduction() bool {
	return c.AppMode == "release"
}
