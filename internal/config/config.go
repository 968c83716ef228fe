package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// APIPrefix is the common prefix of every route.
const APIPrefix = "/api"

type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	OIDC     OIDCConfig     `env:",prefix=OIDC_"`
	Session  SessionConfig  `env:",prefix=SESSION_"`
	Token    TokenConfig    `env:",prefix=TOKEN_"`
	Security SecurityConfig `env:",prefix=SECURITY_"`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	MinIO    MinIOConfig    `env:",prefix=MINIO_"`
	Agentica AgenticaConfig `env:",prefix=AGENTICA_"`
	BaseURL  string         `env:"BASE_URL,default=http://localhost:8000"`
	Env      string         `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8000"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=60s"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=minwon"`
	Password string `env:"PASSWORD,default=minwon_password"`
	DBName   string `env:"DATABASE,default=minwon"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

// OIDCConfig describes the Keycloak realm the service authenticates against.
type OIDCConfig struct {
	IssuerURL          string   `env:"ISSUER_URL,required"`
	ClientID           string   `env:"CLIENT_ID,required"`
	ClientSecret       string   `env:"CLIENT_SECRET,required"`
	SigningAlg         string   `env:"SIGNING_ALG,default=RS256"`
	DiscoveryTimeout   Duration `env:"DISCOVERY_TIMEOUT,default=30s"`
	HTTPTimeout        Duration `env:"HTTP_TIMEOUT,default=10s"`
	InsecureSkipVerify bool     `env:"INSECURE_SKIP_VERIFY,default=false"`
}

type SessionConfig struct {
	Secret     string   `env:"SECRET,required"`
	CookieName string   `env:"COOKIE_NAME,default=minwon_session"`
	MaxAge     Duration `env:"MAX_AGE,default=14d"`
	KeyPrefix  string   `env:"KEY_PREFIX,default=session:"`
}

type TokenConfig struct {
	EncryptionKey string   `env:"ENCRYPTION_KEY,required"`
	RefreshTTL    Duration `env:"REFRESH_TTL,default=30d"`
	PurgeInterval Duration `env:"PURGE_INTERVAL,default=1h"`
}

type SecurityConfig struct {
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=20"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

type MinIOConfig struct {
	Endpoint  string `env:"ENDPOINT,default=localhost:9002"`
	AccessKey string `env:"ACCESS_KEY,required"`
	SecretKey string `env:"SECRET_KEY,required"`
	Bucket    string `env:"BUCKET,default=minwon"`
	Secure    bool   `env:"SECURE,default=false"`
}

// AgenticaConfig points at the external text classification and OCR services.
type AgenticaConfig struct {
	ServiceURL  string   `env:"SERVICE_URL,default=http://localhost:9000"`
	OCRURL      string   `env:"OCR_URL,default=http://localhost:7001"`
	Timeout     Duration `env:"TIMEOUT,default=30s"`
	MaxAttempts int      `env:"MAX_ATTEMPTS,default=2"`
	RetryDelay  Duration `env:"RETRY_DELAY,default=1s"`
	MaxOCRBytes int64    `env:"MAX_OCR_BYTES,default=10485760"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// SecureCookies reports whether cookies get the Secure attribute.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// CallbackURL is the redirect URI registered with the identity provider.
func (c *Config) CallbackURL() string {
	return c.BaseURL + APIPrefix + "/callback"
}

// UserInfoURL is where a freshly authenticated browser lands.
func (c *Config) UserInfoURL() string {
	return c.BaseURL + APIPrefix + "/userinfo"
}

// LoggedOutURL is the neutral landing page after logout or a failed login.
func (c *Config) LoggedOutURL() string {
	return c.BaseURL + APIPrefix + "/logged-out"
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.OIDC.IssuerURL = strings.TrimRight(config.OIDC.IssuerURL, "/")

	if len(config.Session.Secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters long")
	}

	return &config, nil
}
