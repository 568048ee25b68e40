package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB           DBConfig
	JWT          JWTConfig
	ServiceToken ServiceTokenConfig
	Server       ServerConfig
	Invite       InviteConfig
	Email        EmailConfig
	MinIO        MinIOConfig
	Audit        AuditConfig
	Webhook      WebhookConfig
	SSO          SSOConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServiceTokenConfig struct {
	Secret string
	TTL    time.Duration
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type InviteConfig struct {
	TTL time.Duration
}

type EmailConfig struct {
	Enabled     bool
	Region      string
	FromAddress string
	SendTimeout time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type AuditConfig struct {
	ExportInterval time.Duration
}

type WebhookConfig struct {
	DeliveryTimeout time.Duration
}

type OAuthProviderConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string
}

type SSOConfig struct {
	Google OAuthProviderConfig
	GitHub OAuthProviderConfig
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trustgate"),
			Password: getEnv("DB_PASSWORD", "trustgate_secret"),
			Name:     getEnv("DB_NAME", "trustgate"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		ServiceToken: ServiceTokenConfig{
			Secret: getEnv("SERVICE_TOKEN_SECRET", getEnv("JWT_SECRET", "change-me-in-production")),
			TTL:    getEnvAsDuration("SERVICE_TOKEN_TTL", 1*time.Hour),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		Invite: InviteConfig{
			TTL: getEnvAsDuration("INVITE_TTL", 7*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			Region:      getEnv("AWS_SES_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@trustgate.local"),
			SendTimeout: getEnvAsDuration("EMAIL_SEND_TIMEOUT", 10*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "trustgate"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "trustgate_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "trustgate-audit"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Audit: AuditConfig{
			ExportInterval: getEnvAsDuration("AUDIT_EXPORT_INTERVAL", 1*time.Hour),
		},
		Webhook: WebhookConfig{
			DeliveryTimeout: getEnvAsDuration("WEBHOOK_DELIVERY_TIMEOUT", 10*time.Second),
		},
		SSO: SSOConfig{
			Google: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GOOGLE_ENABLED", false),
				ClientID:     getEnv("SSO_GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GOOGLE_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GOOGLE_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GOOGLE_SCOPES", "openid,email,profile"),
			},
			GitHub: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GITHUB_ENABLED", false),
				ClientID:     getEnv("SSO_GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GITHUB_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GITHUB_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GITHUB_SCOPES", "read:user,user:email"),
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
