package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Store  StoreConfig
	DB     DBConfig
	Redis  RedisConfig
	Stream StreamConfig
	Exotel ExotelConfig
	Gemini GeminiConfig
	Dash   DashConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base URL of this process.
	// The carrier dials back to it for webhooks and the media socket.
	PublicBaseURL string

	// MockMode simulates the carrier and the speech engine locally.
	MockMode bool

	// RateLimitPerMinute caps /api requests per client IP.
	RateLimitPerMinute int
}

// StoreConfig selects the call-record backend.
// Accepts: localjson, redis, postgres, memory.
type StoreConfig struct {
	Backend string
	File    string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type StreamConfig struct {
	// TokenSecret keys the HMAC over media stream tokens.
	TokenSecret string
	TokenTTL    time.Duration

	// MaxDuration is the hard per-call media session ceiling.
	MaxDuration time.Duration
}

type ExotelConfig struct {
	AccountSID string
	APIKey     string
	APIToken   string
	CallerID   string
	AppID      string
	Subdomain  string
}

type GeminiConfig struct {
	APIKey        string
	RealtimeModel string
}

// DashConfig controls optional operator auth for the dashboard REST API.
// When JWTSecret is empty the dashboard API is open (observer sockets always are).
type DashConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
	c.App.MockMode = os.Getenv("MOCK_MODE") == "true"
	c.App.RateLimitPerMinute = optInt("RATE_LIMIT_PER_MINUTE")

	c.Store.Backend = strings.TrimSpace(os.Getenv("CALL_STORE"))
	c.Store.File = strings.TrimSpace(os.Getenv("CALL_LOG_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = optInt("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = optInt("REDIS_PORT")

	c.Stream.TokenSecret = os.Getenv("STREAM_TOKEN_SECRET")
	c.Stream.TokenTTL = mustDuration("STREAM_TOKEN_TTL")
	c.Stream.MaxDuration = mustDuration("MAX_STREAM_DURATION")

	c.Exotel.AccountSID = strings.TrimSpace(os.Getenv("EXOTEL_ACCOUNT_SID"))
	c.Exotel.APIKey = strings.TrimSpace(os.Getenv("EXOTEL_API_KEY"))
	c.Exotel.APIToken = os.Getenv("EXOTEL_API_TOKEN")
	c.Exotel.CallerID = strings.TrimSpace(os.Getenv("EXOTEL_CALLER_ID"))
	c.Exotel.AppID = strings.TrimSpace(os.Getenv("EXOTEL_APP_ID"))
	c.Exotel.Subdomain = strings.TrimSpace(os.Getenv("EXOTEL_SUBDOMAIN"))

	c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	c.Gemini.RealtimeModel = strings.TrimSpace(os.Getenv("GEMINI_REALTIME_MODEL"))

	c.Dash.JWTSecret = os.Getenv("DASH_JWT_SECRET")
	c.Dash.TokenTTL = mustDuration("DASH_TOKEN_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		} else {
			c.App.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	}
	if c.App.RateLimitPerMinute <= 0 {
		c.App.RateLimitPerMinute = 60
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "localjson"
	}
	switch c.Store.Backend {
	case "localjson":
		if c.Store.File == "" {
			c.Store.File = "./data/calls.json"
		}
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when CALL_STORE=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	case "postgres":
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required when CALL_STORE=postgres"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when CALL_STORE=postgres"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when CALL_STORE=postgres"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	default:
		errs = append(errs, fmt.Errorf("CALL_STORE must be one of localjson, redis, postgres, memory, got %q", c.Store.Backend))
	}

	if c.Stream.TokenSecret == "" {
		errs = append(errs, errors.New("STREAM_TOKEN_SECRET is required"))
	}
	if c.Stream.TokenTTL <= 0 {
		c.Stream.TokenTTL = 5 * time.Minute
	}
	if c.Stream.MaxDuration <= 0 {
		c.Stream.MaxDuration = 240 * time.Second
	}

	if !c.App.MockMode {
		if c.Exotel.AccountSID == "" {
			errs = append(errs, errors.New("EXOTEL_ACCOUNT_SID is required unless MOCK_MODE=true"))
		}
		if c.Exotel.APIKey == "" {
			errs = append(errs, errors.New("EXOTEL_API_KEY is required unless MOCK_MODE=true"))
		}
		if c.Exotel.APIToken == "" {
			errs = append(errs, errors.New("EXOTEL_API_TOKEN is required unless MOCK_MODE=true"))
		}
		if c.Exotel.CallerID == "" {
			errs = append(errs, errors.New("EXOTEL_CALLER_ID is required unless MOCK_MODE=true"))
		}
	}
	if c.Exotel.Subdomain == "" {
		c.Exotel.Subdomain = "api.exotel.com"
	}

	if c.Gemini.RealtimeModel == "" {
		c.Gemini.RealtimeModel = "gemini-2.0-flash-realtime"
	}

	if c.Dash.TokenTTL <= 0 {
		c.Dash.TokenTTL = 12 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// WSBaseURL is PublicBaseURL with the scheme switched to ws/wss.
func (c Config) WSBaseURL() string {
	return strings.Replace(c.App.PublicBaseURL, "http", "ws", 1)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Plain integers are treated as seconds for parity with the old env files.
		if n, err2 := strconv.Atoi(v); err2 == nil {
			return time.Duration(n) * time.Second
		}
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
