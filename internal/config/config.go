package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	ARI    ARIConfig
	Dialer DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit; production must set it.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ARIConfig points the gateway at the Asterisk REST Interface.
type ARIConfig struct {
	BaseURL  string
	Username string
	Password string

	// App is the Stasis application name channels are originated into.
	App string

	// Trunk is the PJSIP endpoint suffix for outbound legs;
	// the dial string becomes PJSIP/<number>@<trunk>.
	Trunk string

	// OriginateTimeout bounds a single originate request.
	OriginateTimeout time.Duration
}

// DialerConfig tunes the pacing engine. Every knob has a safe default.
type DialerConfig struct {
	TickInterval             time.Duration
	AverageHandleTimeSeconds int
	DialAheadRatio           int

	// AbandonStep is the flat dial-rate reduction applied per tick while the
	// observed abandon rate exceeds the campaign cap.
	AbandonStep int

	// Calling window, hours in local time. Start inclusive, end exclusive.
	CallingHourStart int
	CallingHourEnd   int
	Timezone         string

	// StaleAfter is how long an attempt may sit in a pre-terminal state
	// before the reaper fails it.
	StaleAfter     time.Duration
	ReaperInterval time.Duration

	// MaxCallsPerCampaign caps concurrent in-flight calls per campaign across
	// engine instances (enforced via Redis). Zero disables the cap.
	MaxCallsPerCampaign int
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

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.ARI.BaseURL = strings.TrimSpace(os.Getenv("ARI_BASE_URL"))
	c.ARI.Username = strings.TrimSpace(os.Getenv("ARI_USERNAME"))
	c.ARI.Password = os.Getenv("ARI_PASSWORD")
	c.ARI.App = strings.TrimSpace(os.Getenv("ARI_APP"))
	c.ARI.Trunk = strings.TrimSpace(os.Getenv("ARI_TRUNK"))
	c.ARI.OriginateTimeout = optDuration("ARI_ORIGINATE_TIMEOUT")

	c.Dialer.TickInterval = optDuration("DIALER_TICK_INTERVAL")
	c.Dialer.AverageHandleTimeSeconds = optInt("DIALER_AVG_HANDLE_TIME_SECONDS")
	c.Dialer.DialAheadRatio = optInt("DIALER_DIAL_AHEAD_RATIO")
	c.Dialer.AbandonStep = optInt("DIALER_ABANDON_STEP")
	c.Dialer.CallingHourStart = optInt("DIALER_CALLING_HOUR_START")
	c.Dialer.CallingHourEnd = optInt("DIALER_CALLING_HOUR_END")
	c.Dialer.Timezone = strings.TrimSpace(os.Getenv("DIALER_TIMEZONE"))
	c.Dialer.StaleAfter = optDuration("DIALER_STALE_AFTER")
	c.Dialer.ReaperInterval = optDuration("DIALER_REAPER_INTERVAL")
	c.Dialer.MaxCallsPerCampaign = optInt("DIALER_MAX_CALLS_PER_CAMPAIGN")

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

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.ARI.BaseURL == "" {
		errs = append(errs, errors.New("ARI_BASE_URL is required"))
	}
	if c.ARI.Username == "" {
		errs = append(errs, errors.New("ARI_USERNAME is required"))
	}
	if c.ARI.App == "" {
		c.ARI.App = "dialer-engine"
	}
	if c.ARI.Trunk == "" {
		errs = append(errs, errors.New("ARI_TRUNK is required"))
	}
	if c.ARI.OriginateTimeout <= 0 {
		c.ARI.OriginateTimeout = 30 * time.Second
	}

	if c.Dialer.TickInterval <= 0 {
		c.Dialer.TickInterval = 10 * time.Second
	}
	if c.Dialer.AverageHandleTimeSeconds <= 0 {
		c.Dialer.AverageHandleTimeSeconds = 300
	}
	if c.Dialer.DialAheadRatio < 2 {
		c.Dialer.DialAheadRatio = 2
	}
	if c.Dialer.AbandonStep <= 0 {
		c.Dialer.AbandonStep = 1
	}
	if c.Dialer.CallingHourStart == 0 && c.Dialer.CallingHourEnd == 0 {
		c.Dialer.CallingHourStart = 9
		c.Dialer.CallingHourEnd = 21
	}
	if c.Dialer.CallingHourStart < 0 || c.Dialer.CallingHourStart > 23 {
		errs = append(errs, fmt.Errorf("DIALER_CALLING_HOUR_START must be 0-23, got %d", c.Dialer.CallingHourStart))
	}
	if c.Dialer.CallingHourEnd <= c.Dialer.CallingHourStart || c.Dialer.CallingHourEnd > 24 {
		errs = append(errs, fmt.Errorf("DIALER_CALLING_HOUR_END must be after start and at most 24, got %d", c.Dialer.CallingHourEnd))
	}
	if c.Dialer.Timezone == "" {
		c.Dialer.Timezone = "Asia/Kolkata"
	}
	if _, err := time.LoadLocation(c.Dialer.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("DIALER_TIMEZONE is not a valid IANA zone: %q", c.Dialer.Timezone))
	}
	if c.Dialer.StaleAfter <= 0 {
		c.Dialer.StaleAfter = 24 * time.Hour
	}
	if c.Dialer.ReaperInterval <= 0 {
		c.Dialer.ReaperInterval = time.Hour
	}
	if c.Dialer.MaxCallsPerCampaign < 0 {
		errs = append(errs, fmt.Errorf("DIALER_MAX_CALLS_PER_CAMPAIGN must be >= 0, got %d", c.Dialer.MaxCallsPerCampaign))
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

// Location resolves the configured calling-hours zone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Dialer.Timezone)
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

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
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
