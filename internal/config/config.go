package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable via STORE_BACKEND.
const (
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	StoreBackend   string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	DatabaseURL    string

	Tokens TokenConfig

	Notifier     string // "smtp" | "log"
	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string
	SNSTopicARN  string // empty disables lifecycle events

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SigninRatePerHour    int
	SensitiveRatePerHour int      // signup, forgot-password and resend, per client address
	TrustProxyHeaders    bool     // take the client address from X-Forwarded-For / X-Real-IP
	AllowedOrigins       []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users  string
	Tokens string
}

// TokenConfig tunes the single-use token subsystem.
type TokenConfig struct {
	VerifyLinkBase  string
	ResetLinkBase   string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	BcryptCost      int
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
	ClaimLease      time.Duration
	SweepInterval   time.Duration // 0 disables the background sweeper
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "9000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendDynamo)),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:  getEnv("DYNAMO_TABLE_USERS", "users"),
			Tokens: getEnv("DYNAMO_TABLE_TOKENS", "token_records"),
		},
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/accounts?sslmode=disable"),
		Tokens: TokenConfig{
			VerifyLinkBase:  strings.TrimRight(getEnv("VERIFY_LINK_BASE", "http://localhost:9000/user/verify"), "/"),
			ResetLinkBase:   strings.TrimRight(getEnv("RESET_LINK_BASE", "http://localhost:9000/user/resetpassword"), "/"),
			VerificationTTL: getEnvDuration("VERIFICATION_TTL", 6*time.Hour),
			ResetTTL:        getEnvDuration("RESET_TTL", 60*time.Minute),
			BcryptCost:      getEnvInt("BCRYPT_COST", 10),
			StoreTimeout:    getEnvDuration("STORE_TIMEOUT", 5*time.Second),
			NotifyTimeout:   getEnvDuration("NOTIFY_TIMEOUT", 15*time.Second),
			ClaimLease:      getEnvDuration("CLAIM_LEASE", 30*time.Second),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
		},
		Notifier:          strings.ToLower(getEnv("NOTIFIER", "smtp")),
		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:          getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:       getEnv("SNS_TOPIC_ARN", ""),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		SigninRatePerHour:    getEnvInt("SIGNIN_RATE_PER_HOUR", 3),
		SensitiveRatePerHour: getEnvInt("SENSITIVE_RATE_PER_HOUR", 10),
		TrustProxyHeaders:    getEnvBool("TRUST_PROXY_HEADERS", false),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90m", "6h"); "0" disables.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
