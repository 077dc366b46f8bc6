package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	Host     string `mapstructure:"http_host"`
	Port     int    `mapstructure:"http_port"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   string `mapstructure:"node_id"`

	DBDriver    string `mapstructure:"db_driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	DatabaseURL string `mapstructure:"-"`

	JWTSecret          string   `mapstructure:"jwt_secret"`
	AccessTokenMinutes int      `mapstructure:"access_token_expire_minutes"`
	EncryptKey         string   `mapstructure:"encryption_key"`
	LegacyFernetKeys   []string `mapstructure:"-"`

	CORSOrigins                []string `mapstructure:"-"`
	MaxMessagesPerConversation int      `mapstructure:"max_messages_per_conversation"`

	PresenceBackend  string        `mapstructure:"presence_backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	QueueConcurrency int           `mapstructure:"queue_concurrency"`
	ShutdownGrace    time.Duration `mapstructure:"-"`
}

var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// Load reads configuration from the environment. Callers that want .env support
// load it into the environment first.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_name", "dm router")
	v.SetDefault("app_env", "development")
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8000)
	v.SetDefault("log_level", "info")
	v.SetDefault("node_id", defaultNodeID())
	v.SetDefault("db_driver", DriverSQLite)
	v.SetDefault("sqlite_path", "dm.db")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_password", "postgres")
	v.SetDefault("postgres_db", "dm")
	v.SetDefault("access_token_expire_minutes", 60*24)
	v.SetDefault("max_messages_per_conversation", 1000)
	v.SetDefault("presence_backend", PresenceMemory)
	v.SetDefault("queue_concurrency", 10)
	v.SetDefault("shutdown_grace_period", "10s")
	// AutomaticEnv only sees keys viper already knows about.
	for _, k := range []string{"jwt_secret", "encryption_key", "redis_url", "cors_origins", "legacy_fernet_keys"} {
		v.SetDefault(k, "")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("postgres_user"), v.GetString("postgres_password")),
		Host:     fmt.Sprintf("%s:%s", v.GetString("postgres_host"), v.GetString("postgres_port")),
		Path:     v.GetString("postgres_db"),
		RawQuery: "sslmode=disable",
	}
	cfg.DatabaseURL = u.String()

	cfg.CORSOrigins = splitList(v.GetString("cors_origins"))
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = defaultCORSOrigins
	}
	cfg.LegacyFernetKeys = splitList(v.GetString("legacy_fernet_keys"))

	grace, err := time.ParseDuration(v.GetString("shutdown_grace_period"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_GRACE_PERIOD: %w", err)
	}
	cfg.ShutdownGrace = grace

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.EncryptKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	switch c.PresenceBackend {
	case PresenceMemory:
	case PresenceRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PRESENCE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("PRESENCE_BACKEND must be %q or %q, got %q", PresenceMemory, PresenceRedis, c.PresenceBackend)
	}
	if c.MaxMessagesPerConversation < 0 {
		return fmt.Errorf("MAX_MESSAGES_PER_CONVERSATION must not be negative")
	}
	if c.NodeID == "" || strings.Contains(c.NodeID, ".") {
		return fmt.Errorf("NODE_ID must be non-empty and must not contain '.'")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "node"
	}
	return strings.ReplaceAll(host, ".", "-")
}
