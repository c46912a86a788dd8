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
// All values come from env (optionally pre-loaded from .env.local by the
// process runner). No business logic should read raw environment variables.
type Config struct {
	App      AppConfig
	LiveKit  LiveKitConfig
	SIP      SIPConfig
	Realtime RealtimeConfig
	Webhook  WebhookConfig
	Dedup    DedupConfig
	HTTP     HTTPConfig
	Dispatch DispatchConfig
	Redis    RedisConfig
	DB       DBConfig
}

type AppConfig struct {
	Env     string
	Port    int
	LogFile string
}

type LiveKitConfig struct {
	URL       string
	APIKey    string
	APISecret string
	AgentName string
	TokenTTL  time.Duration
}

// Configured reports whether every LiveKit credential is present.
func (l LiveKitConfig) Configured() bool {
	return l.URL != "" && l.APIKey != "" && l.APISecret != ""
}

type SIPConfig struct {
	TrunkID        string
	CallerID       string
	DialTimeout    time.Duration
	TransferNumber string
	DefaultNumber  string
	DefaultRegion  string
}

type RealtimeConfig struct {
	APIKey string
	Model  string
	URL    string
}

type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

type DedupConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type HTTPConfig struct {
	AllowedOrigins  []string
	RateLimitCount  int
	RateLimitWindow time.Duration
	APIKey          string
	RequireAPIKey   bool
}

type DispatchConfig struct {
	RPS                float64
	MaxConcurrentCalls int
	// MaxWait bounds how long a request queues for the provider rate.
	MaxWait time.Duration
	// AssignTimeout releases a dispatched call that no job assignment claimed.
	AssignTimeout time.Duration
}

// RedisConfig is optional. When Addr is empty, dedup and rate limiting stay
// in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// DBConfig is optional. When URL is empty, call events are kept in memory.
type DBConfig struct {
	URL string
}

const (
	DefaultAgentName     = "outbound-agent"
	DefaultRealtimeModel = "gpt-4o-realtime-preview"
	DefaultRealtimeURL   = "https://api.openai.com/v1/realtime"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	collect := func(err error) {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))
	{
		n, err := optInt("APP_PORT", 8080)
		collect(err)
		c.App.Port = n
	}

	c.LiveKit.URL = strings.TrimSpace(os.Getenv("LIVEKIT_URL"))
	c.LiveKit.APIKey = strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY"))
	c.LiveKit.APISecret = os.Getenv("LIVEKIT_API_SECRET")
	c.LiveKit.AgentName = strings.TrimSpace(os.Getenv("AGENT_NAME"))
	{
		d, err := optDuration("LIVEKIT_TOKEN_TTL", 0)
		collect(err)
		c.LiveKit.TokenTTL = d
	}

	c.SIP.TrunkID = strings.TrimSpace(os.Getenv("SIP_TRUNK_ID"))
	c.SIP.CallerID = strings.TrimSpace(os.Getenv("CALLER_ID"))
	c.SIP.TransferNumber = strings.TrimSpace(os.Getenv("TRANSFER_PHONE_NUMBER"))
	c.SIP.DefaultNumber = strings.TrimSpace(os.Getenv("DEFAULT_PHONE_NUMBER"))
	c.SIP.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("DEFAULT_REGION")))
	{
		d, err := optDuration("DIAL_TIMEOUT", 0)
		collect(err)
		c.SIP.DialTimeout = d
	}

	c.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Realtime.Model = strings.TrimSpace(os.Getenv("REALTIME_MODEL"))
	c.Realtime.URL = strings.TrimSpace(os.Getenv("REALTIME_URL"))

	c.Webhook.URL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	if c.Webhook.URL == "" {
		c.Webhook.URL = strings.TrimSpace(os.Getenv("MAKE_WEBHOOK_URL"))
	}
	c.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")
	{
		n, err := optInt("WEBHOOK_TIMEOUT", 0)
		collect(err)
		c.Webhook.Timeout = time.Duration(n) * time.Second
	}
	{
		n, err := optInt("WEBHOOK_MAX_RETRIES", 0)
		collect(err)
		c.Webhook.MaxRetries = n
	}

	{
		d, err := optDuration("DEDUP_TTL", 0)
		collect(err)
		c.Dedup.TTL = d
	}
	{
		n, err := optInt("DEDUP_MAX_ENTRIES", 0)
		collect(err)
		c.Dedup.MaxEntries = n
	}

	c.HTTP.AllowedOrigins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	c.HTTP.APIKey = os.Getenv("PRODUCTION_API_KEY")
	{
		n, err := optInt("RATE_LIMIT_COUNT", 0)
		collect(err)
		c.HTTP.RateLimitCount = n
	}
	{
		d, err := optDuration("RATE_LIMIT_WINDOW", 0)
		collect(err)
		c.HTTP.RateLimitWindow = d
	}
	{
		b, err := optBool("REQUIRE_API_KEY", false)
		collect(err)
		c.HTTP.RequireAPIKey = b
	}

	{
		f, err := optFloat("DISPATCH_RPS", 0)
		collect(err)
		c.Dispatch.RPS = f
	}
	{
		n, err := optInt("MAX_CONCURRENT_CALLS", 0)
		collect(err)
		c.Dispatch.MaxConcurrentCalls = n
	}
	{
		d, err := optDuration("DISPATCH_MAX_WAIT", 0)
		collect(err)
		c.Dispatch.MaxWait = d
	}
	{
		d, err := optDuration("DISPATCH_ASSIGN_TIMEOUT", 0)
		collect(err)
		c.Dispatch.AssignTimeout = d
	}

	c.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB", 0)
		collect(err)
		c.Redis.DB = n
	}

	c.DB.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills every optional zero value. Load calls it before
// Validate; tests building a Config by hand call it themselves.
func (c *Config) ApplyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.LiveKit.AgentName == "" {
		c.LiveKit.AgentName = DefaultAgentName
	}
	if c.LiveKit.TokenTTL <= 0 {
		c.LiveKit.TokenTTL = 6 * time.Hour
	}
	if c.SIP.DialTimeout <= 0 {
		c.SIP.DialTimeout = 45 * time.Second
	}
	if c.SIP.DefaultRegion == "" {
		c.SIP.DefaultRegion = "PT"
	}
	if c.Realtime.Model == "" {
		c.Realtime.Model = DefaultRealtimeModel
	}
	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Webhook.MaxRetries <= 0 {
		c.Webhook.MaxRetries = 3
	}
	if c.Dedup.TTL <= 0 {
		c.Dedup.TTL = time.Hour
	}
	if c.Dedup.MaxEntries == 0 {
		c.Dedup.MaxEntries = 10000
	}
	if c.HTTP.RateLimitCount <= 0 {
		c.HTTP.RateLimitCount = 5
	}
	if c.HTTP.RateLimitWindow <= 0 {
		c.HTTP.RateLimitWindow = time.Minute
	}
	if c.Dispatch.RPS <= 0 {
		c.Dispatch.RPS = 2
	}
	if c.Dispatch.MaxConcurrentCalls <= 0 {
		c.Dispatch.MaxConcurrentCalls = 20
	}
	if c.Dispatch.MaxWait <= 0 {
		c.Dispatch.MaxWait = 2 * time.Second
	}
	if c.Dispatch.AssignTimeout <= 0 {
		c.Dispatch.AssignTimeout = 30 * time.Second
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.LiveKit.URL != "" && !hasScheme(c.LiveKit.URL, "ws://", "wss://", "http://", "https://") {
		errs = append(errs, fmt.Errorf("LIVEKIT_URL must be a ws(s) or http(s) url, got %q", c.LiveKit.URL))
	}
	if c.Realtime.URL != "" && !hasScheme(c.Realtime.URL, "http://", "https://") {
		errs = append(errs, fmt.Errorf("REALTIME_URL must be an http(s) url, got %q", c.Realtime.URL))
	}
	if c.Webhook.URL != "" && !hasScheme(c.Webhook.URL, "http://", "https://") {
		errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an http(s) url, got %q", c.Webhook.URL))
	}
	if len(c.SIP.DefaultRegion) != 2 {
		errs = append(errs, fmt.Errorf("DEFAULT_REGION must be an ISO 3166 alpha-2 code, got %q", c.SIP.DefaultRegion))
	}

	if c.Webhook.MaxRetries < 1 || c.Webhook.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_RETRIES must be between 1 and 10, got %d", c.Webhook.MaxRetries))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT must be > 0"))
	}
	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("DEDUP_TTL must be > 0"))
	}
	if c.Dedup.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("DEDUP_MAX_ENTRIES must be >= 0, got %d", c.Dedup.MaxEntries))
	}
	if c.HTTP.RateLimitCount <= 0 || c.HTTP.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_COUNT and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.Dispatch.RPS <= 0 {
		errs = append(errs, errors.New("DISPATCH_RPS must be > 0"))
	}
	if c.Dispatch.MaxConcurrentCalls <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_CALLS must be > 0"))
	}

	if c.HTTP.RequireAPIKey && c.HTTP.APIKey == "" {
		errs = append(errs, errors.New("PRODUCTION_API_KEY is required when REQUIRE_API_KEY is set"))
	}

	if c.IsProduction() {
		if !c.LiveKit.Configured() {
			errs = append(errs, errors.New("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required in production"))
		}
		if c.SIP.TrunkID == "" {
			errs = append(errs, errors.New("SIP_TRUNK_ID is required in production"))
		}
		if c.Webhook.URL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required in production"))
		}
		if c.HTTP.APIKey == "" {
			errs = append(errs, errors.New("PRODUCTION_API_KEY is required in production"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// APIKeyEnforced reports whether start_call requires the bearer API key.
func (c Config) APIKeyEnforced() bool {
	return c.IsProduction() || c.HTTP.RequireAPIKey
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func optDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration like 45s or 1h, got %q", key, v)
	}
	return d, nil
}

func optBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasScheme(v string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(v, s) {
			return true
		}
	}
	return false
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
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
