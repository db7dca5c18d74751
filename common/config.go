package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
)

type Config struct {
	ListenAddr    string `json:"listen_addr"`
	BaseURL       string `json:"base_url"`
	FrontendURL   string `json:"frontend_url"`
	DatabaseURL   string `json:"database_url"`
	DatabaseDebug bool   `json:"database_debug"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisPrefix   string `json:"redis_prefix"`

	SessionSecret      string `json:"session_secret"`
	SessionExpiryHours int    `json:"session_expiry_hours"`
	SecureCookies      bool   `json:"secure_cookies"`

	OauthGoogleClientID     string `json:"oauth_google_client_id"`
	OauthGoogleClientSecret string `json:"oauth_google_client_secret"`

	GeminiAPIKey          string `json:"gemini_api_key"`
	GeminiCredentialsFile string `json:"gemini_credentials_file"`
	GeminiModel           string `json:"gemini_model"`
	GeminiImageModel      string `json:"gemini_image_model"`
	MeshyAPIKey           string `json:"meshy_api_key"`
	ReplicateToken        string `json:"replicate_token"`
	TrellisVersion        string `json:"trellis_version"`
	MeshProvider          string `json:"mesh_provider"`
	MaxPromptTokens       int    `json:"max_prompt_tokens"`

	BlobBucket        string `json:"blob_bucket"`
	BlobRegion        string `json:"blob_region"`
	BlobEndpoint      string `json:"blob_endpoint"`
	BlobAccessKeyID   string `json:"blob_access_key_id"`
	BlobSecretKey     string `json:"blob_secret_key"`
	BlobPublicBaseURL string `json:"blob_public_base_url"`

	MaxUploadBytes    int64 `json:"max_upload_bytes"`
	MaxImageDimension int   `json:"max_image_dimension"`

	StripeSecretKey     string `json:"stripe_secret_key"`
	StripeWebhookSecret string `json:"stripe_webhook_secret"`

	FreeGenerationsLimit   int `json:"free_generations_limit"`
	StaleGenerationMinutes int `json:"stale_generation_minutes"`
	GenerationRatePerMin   int `json:"generation_rate_per_min"`
	GenerationRateBurst    int `json:"generation_rate_burst"`
}

func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	// Load config (JSON + env overrides)
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = DEFAULT_CONFIG_FILE
	}

	if !strings.HasPrefix(configPath, "/") && dir != "" {
		configPath = path.Join(dir, configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		fileCfg, err := LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg.applyConfigOverrides(fileCfg)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &Config{}
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:             DEFAULT_LISTEN_ADDR,
		BaseURL:                DEFAULT_BASE_URL,
		FrontendURL:            DEFAULT_FRONTEND_URL,
		RedisAddr:              DEFAULT_REDIS_ADDR,
		RedisPassword:          DEFAULT_REDIS_PASSWORD,
		RedisPrefix:            DEFAULT_REDIS_PREFIX,
		SessionExpiryHours:     DEFAULT_SESSION_EXPIRY_HOURS,
		SecureCookies:          true,
		GeminiModel:            DEFAULT_GEMINI_MODEL,
		GeminiImageModel:       DEFAULT_GEMINI_IMAGE_MODEL,
		MeshProvider:           DEFAULT_MESH_PROVIDER,
		TrellisVersion:         DEFAULT_TRELLIS_VERSION,
		MaxPromptTokens:        DEFAULT_MAX_PROMPT_TOKENS,
		BlobRegion:             "auto",
		MaxUploadBytes:         DEFAULT_MAX_UPLOAD_BYTES,
		MaxImageDimension:      DEFAULT_MAX_IMAGE_DIMENSION,
		FreeGenerationsLimit:   DEFAULT_FREE_GENERATIONS_LIMIT,
		StaleGenerationMinutes: DEFAULT_STALE_GENERATION_MINUTES,
		GenerationRatePerMin:   DEFAULT_GENERATION_RATE_PER_MIN,
		GenerationRateBurst:    DEFAULT_GENERATION_RATE_BURST,
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	switch c.MeshProvider {
	case MESH_PROVIDER_MESHY, MESH_PROVIDER_TRELLIS:
	default:
		return fmt.Errorf("unknown mesh provider %q", c.MeshProvider)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			*dst = atoiOrDefault(v, *dst)
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v) == "true" || v == "1"
		}
	}

	setString("LISTEN_ADDR", &c.ListenAddr)
	setString("BASE_URL", &c.BaseURL)
	setString("FRONTEND_URL", &c.FrontendURL)
	setString("DATABASE_URL", &c.DatabaseURL)
	setBool("DB_DEBUG", &c.DatabaseDebug)
	setString("REDIS_ADDR", &c.RedisAddr)
	setString("REDIS_PASSWORD", &c.RedisPassword)
	setString("REDIS_PREFIX", &c.RedisPrefix)

	setString("SESSION_SECRET", &c.SessionSecret)
	setInt("SESSION_EXPIRY_HOURS", &c.SessionExpiryHours)
	setBool("SECURE_COOKIES", &c.SecureCookies)

	setString("OAUTH_GOOGLE_CLIENT_ID", &c.OauthGoogleClientID)
	setString("OAUTH_GOOGLE_CLIENT_SECRET", &c.OauthGoogleClientSecret)

	setString("GEMINI_API_KEY", &c.GeminiAPIKey)
	setString("GEMINI_CREDENTIALS_FILE", &c.GeminiCredentialsFile)
	setString("GEMINI_MODEL", &c.GeminiModel)
	setString("GEMINI_IMAGE_MODEL", &c.GeminiImageModel)
	setString("MESHY_API_KEY", &c.MeshyAPIKey)
	setString("REPLICATE_API_TOKEN", &c.ReplicateToken)
	setString("TRELLIS_VERSION", &c.TrellisVersion)
	setString("MESH_PROVIDER", &c.MeshProvider)
	setInt("MAX_PROMPT_TOKENS", &c.MaxPromptTokens)

	setString("BLOB_BUCKET", &c.BlobBucket)
	setString("BLOB_REGION", &c.BlobRegion)
	setString("BLOB_ENDPOINT", &c.BlobEndpoint)
	setString("BLOB_ACCESS_KEY_ID", &c.BlobAccessKeyID)
	setString("BLOB_SECRET_ACCESS_KEY", &c.BlobSecretKey)
	setString("BLOB_PUBLIC_BASE_URL", &c.BlobPublicBaseURL)

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		c.MaxUploadBytes = int64(atoiOrDefault(v, int(c.MaxUploadBytes)))
	}
	setInt("MAX_IMAGE_DIMENSION", &c.MaxImageDimension)

	setString("STRIPE_SECRET_KEY", &c.StripeSecretKey)
	setString("STRIPE_WEBHOOK_SECRET", &c.StripeWebhookSecret)

	setInt("FREE_GENERATIONS_LIMIT", &c.FreeGenerationsLimit)
	setInt("STALE_GENERATION_MINUTES", &c.StaleGenerationMinutes)
	setInt("GENERATION_RATE_PER_MIN", &c.GenerationRatePerMin)
	setInt("GENERATION_RATE_BURST", &c.GenerationRateBurst)
}

func (c *Config) applyConfigOverrides(cfg *Config) {
	overrideString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overrideInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	overrideString(&c.ListenAddr, cfg.ListenAddr)
	overrideString(&c.BaseURL, cfg.BaseURL)
	overrideString(&c.FrontendURL, cfg.FrontendURL)
	overrideString(&c.DatabaseURL, cfg.DatabaseURL)
	c.DatabaseDebug = cfg.DatabaseDebug
	overrideString(&c.RedisAddr, cfg.RedisAddr)
	overrideString(&c.RedisPassword, cfg.RedisPassword)
	overrideString(&c.RedisPrefix, cfg.RedisPrefix)

	overrideString(&c.SessionSecret, cfg.SessionSecret)
	overrideInt(&c.SessionExpiryHours, cfg.SessionExpiryHours)

	overrideString(&c.OauthGoogleClientID, cfg.OauthGoogleClientID)
	overrideString(&c.OauthGoogleClientSecret, cfg.OauthGoogleClientSecret)

	overrideString(&c.GeminiAPIKey, cfg.GeminiAPIKey)
	overrideString(&c.GeminiCredentialsFile, cfg.GeminiCredentialsFile)
	overrideString(&c.GeminiModel, cfg.GeminiModel)
	overrideString(&c.GeminiImageModel, cfg.GeminiImageModel)
	overrideString(&c.MeshyAPIKey, cfg.MeshyAPIKey)
	overrideString(&c.ReplicateToken, cfg.ReplicateToken)
	overrideString(&c.TrellisVersion, cfg.TrellisVersion)
	overrideString(&c.MeshProvider, cfg.MeshProvider)
	overrideInt(&c.MaxPromptTokens, cfg.MaxPromptTokens)

	overrideString(&c.BlobBucket, cfg.BlobBucket)
	overrideString(&c.BlobRegion, cfg.BlobRegion)
	overrideString(&c.BlobEndpoint, cfg.BlobEndpoint)
	overrideString(&c.BlobAccessKeyID, cfg.BlobAccessKeyID)
	overrideString(&c.BlobSecretKey, cfg.BlobSecretKey)
	overrideString(&c.BlobPublicBaseURL, cfg.BlobPublicBaseURL)

	if cfg.MaxUploadBytes != 0 {
		c.MaxUploadBytes = cfg.MaxUploadBytes
	}
	overrideInt(&c.MaxImageDimension, cfg.MaxImageDimension)

	overrideString(&c.StripeSecretKey, cfg.StripeSecretKey)
	overrideString(&c.StripeWebhookSecret, cfg.StripeWebhookSecret)

	overrideInt(&c.FreeGenerationsLimit, cfg.FreeGenerationsLimit)
	overrideInt(&c.StaleGenerationMinutes, cfg.StaleGenerationMinutes)
	overrideInt(&c.GenerationRatePerMin, cfg.GenerationRatePerMin)
	overrideInt(&c.GenerationRateBurst, cfg.GenerationRateBurst)
}

func atoiOrDefault(s string, def int) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return def
	}
	return n
}

// BlobEnabled reports whether object storage credentials are configured.
func (c *Config) BlobEnabled() bool {
	return c.BlobBucket != "" && c.BlobAccessKeyID != "" && c.BlobSecretKey != ""
}
