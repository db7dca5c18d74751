package common

const (
	PRIVATE_CREDENTIALS_FILE   = ".private/service_credentials.json"
	PRIVATE_CREDENTIALS_DOTENV = ".env.private"
	DEFAULT_CONFIG_DIR         = ".config/"
	DEFAULT_CONFIG_FILE        = "config.json"
	DEFAULT_PLANS_FILE         = "plans.json"

	DEFAULT_LISTEN_ADDR    = ":4000"
	DEFAULT_REDIS_ADDR     = "localhost:6379"
	DEFAULT_REDIS_PASSWORD = ""
	DEFAULT_REDIS_PREFIX   = "architect:"
	DEFAULT_BASE_URL       = "http://localhost:4000"
	DEFAULT_FRONTEND_URL   = "http://localhost:5173"

	SESSION_COOKIE_NAME          = "auth_session"
	DEFAULT_SESSION_EXPIRY_HOURS = 24 * 7
	DEFAULT_SESSION_ISSUER       = "architect-studio"

	DEFAULT_GEMINI_MODEL        = "gemini-2.5-flash"
	DEFAULT_GEMINI_IMAGE_MODEL  = "gemini-2.5-flash-image"
	DEFAULT_MESH_PROVIDER       = MESH_PROVIDER_MESHY
	DEFAULT_TRELLIS_VERSION     = "e8f6c45206993f297372f5436b90350817bd9b4a0d52d2a76df50c1c8afa2b3c"
	DEFAULT_MAX_PROMPT_TOKENS   = 300
	DEFAULT_MAX_UPLOAD_BYTES    = 15 << 20
	DEFAULT_MAX_IMAGE_DIMENSION = 2048

	DEFAULT_FREE_GENERATIONS_LIMIT   = 3
	DEFAULT_STALE_GENERATION_MINUTES = 15
	DEFAULT_GENERATION_RATE_PER_MIN  = 10
	DEFAULT_GENERATION_RATE_BURST    = 3

	MESH_PROVIDER_MESHY   = "meshy"
	MESH_PROVIDER_TRELLIS = "trellis"

	PLAN_FREE = "free"

	PRICING_REDIRECT = "/pricing"

	GEMINI_API_BASE_URL    = "https://generativelanguage.googleapis.com"
	MESHY_API_BASE_URL     = "https://api.meshy.ai"
	REPLICATE_API_BASE_URL = "https://api.replicate.com"
	POSTCODES_API_BASE_URL = "https://api.postcodes.io"
)
