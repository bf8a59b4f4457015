package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"duet/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile    string
	AdminAddr string
	APIAddr   string
	BaseURL   string

	GateMode         models.GateMode
	AccessCode       string
	AuthSecret       string
	TokenExpiry      time.Duration
	ResetTokenExpiry time.Duration
	LoginRate        time.Duration

	MediaBackend  string
	MediaPath     string
	MediaMaxBytes int64
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3PublicURL   string

	SendGridAPIKey string
	MailFrom       string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	AdminUser     string
	AdminPassword string

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment.
// A .env file in the working directory is loaded first when present.
// cliMode relaxes checks for one-shot commands that only talk to the admin API.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}
	resetExpiry, err := time.ParseDuration(getEnv("RESET_TOKEN_EXPIRY", "1h"))
	if err != nil {
		return nil, fmt.Errorf("RESET_TOKEN_EXPIRY: %w", err)
	}
	loginRate, err := time.ParseDuration(getEnv("LOGIN_RATE", "2s"))
	if err != nil {
		return nil, fmt.Errorf("LOGIN_RATE: %w", err)
	}
	maxBytes, err := strconv.ParseInt(getEnv("MEDIA_MAX_BYTES", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MEDIA_MAX_BYTES: %w", err)
	}

	cfg := &Config{
		DBFile:    getEnv("DUET_DB", "duet.db"),
		AdminAddr: getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:   getEnv("API_ADDR", ":8080"),
		BaseURL:   getEnv("BASE_URL", "http://localhost:8080"),

		GateMode:         models.GateMode(getEnv("GATE_MODE", string(models.GateModeAccount))),
		AccessCode:       os.Getenv("ACCESS_CODE"),
		AuthSecret:       os.Getenv("AUTH_SECRET"),
		TokenExpiry:      tokenExpiry,
		ResetTokenExpiry: resetExpiry,
		LoginRate:        loginRate,

		MediaBackend:  getEnv("MEDIA_BACKEND", "local"),
		MediaPath:     getEnv("MEDIA_PATH", "media"),
		MediaMaxBytes: maxBytes,
		S3Bucket:      getEnv("S3_BUCKET", "chat-media"),
		S3Region:      getEnv("S3_REGION", "auto"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3PublicURL:   os.Getenv("S3_PUBLIC_URL"),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFrom:       getEnv("MAIL_FROM", "duet@localhost"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:duet@localhost"),

		AdminUser:     getEnv("ADMIN_USER", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if cliMode {
		return nil
	}

	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	switch c.GateMode {
	case models.GateModeCode:
		if c.AccessCode == "" {
			return fmt.Errorf("ACCESS_CODE is required when GATE_MODE=code")
		}
	case models.GateModeAccount:
	default:
		return fmt.Errorf("GATE_MODE must be %q or %q", models.GateModeCode, models.GateModeAccount)
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.ResetTokenExpiry <= 0 {
		return fmt.Errorf("RESET_TOKEN_EXPIRY must be greater than 0")
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be greater than 0")
	}

	switch c.MediaBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when MEDIA_BACKEND=s3")
		}
	default:
		return fmt.Errorf("MEDIA_BACKEND must be \"local\" or \"s3\"")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
