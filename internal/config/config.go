package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// devJWTSecret signs tokens when ENV=development and JWT_SECRET is unset.
const devJWTSecret = "medbridge-development-signing-key-do-not-use"

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	JWTTTL          time.Duration `mapstructure:"JWT_TTL"`
	BcryptCost      int           `mapstructure:"BCRYPT_COST"`
	SMTPHost        string        `mapstructure:"SMTP_HOST"`
	SMTPPort        int           `mapstructure:"SMTP_PORT"`
	SMTPUser        string        `mapstructure:"SMTP_USER"`
	SMTPPass        string        `mapstructure:"SMTP_PASS"`
	EmailFrom       string        `mapstructure:"EMAIL_FROM"`
	FrontendBaseURL string        `mapstructure:"FRONTEND_BASE_URL"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	TransferTimeout time.Duration `mapstructure:"TRANSFER_TIMEOUT"`
	OTPTTL          time.Duration `mapstructure:"OTP_TTL"`
	OTPResendLimit  int           `mapstructure:"OTP_RESEND_LIMIT"`
	OTPDemo         bool          `mapstructure:"OTP_DEMO"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL", "BCRYPT_COST",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "EMAIL_FROM", "FRONTEND_BASE_URL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "TRANSFER_TIMEOUT", "BODY_LIMIT",
	"OTP_TTL", "OTP_RESEND_LIMIT", "OTP_DEMO", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("JWT_ISSUER", "medbridge")
	v.SetDefault("JWT_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_FROM", "no-reply@medbridge.local")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("TRANSFER_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_RESEND_LIMIT", 5)
	v.SetDefault("OTP_DEMO", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: A built-in JWT signing key is used when JWT_SECRET is unset")
		log.Println("WARNING: and notifications are written to the log, not delivered.")
		log.Println("WARNING: Set ENV=production and JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey returns the JWT signing key, falling back to a fixed key in
// development.
func (c *Config) SigningKey() []byte {
	if c.JWTSecret == "" && c.IsDev() {
		return []byte(devJWTSecret)
	}
	return []byte(c.JWTSecret)
}

// SMTPEnabled reports whether outbound email is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// OTPDemoEnabled reports whether consent codes may be echoed in API
// responses. Never true outside development.
func (c *Config) OTPDemoEnabled() bool {
	return c.OTPDemo && c.IsDev()
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required outside development (current ENV=%q)", c.Env)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
		}
		if c.OTPDemo {
			return fmt.Errorf("OTP_DEMO must not be enabled outside development")
		}
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL)
	}
	if c.OTPResendLimit <= 0 {
		return fmt.Errorf("OTP_RESEND_LIMIT must be positive, got %d", c.OTPResendLimit)
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("TRANSFER_TIMEOUT must be positive, got %s", c.TransferTimeout)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.SMTPEnabled() && c.EmailFrom == "" {
		return fmt.Errorf("EMAIL_FROM is required when SMTP_HOST is set")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
