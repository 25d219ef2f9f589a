package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	ConfigDir          string
	MaxUploadSizeBytes int64

	// Bank identity and the two bank-issued shared secrets for the security check field.
	BankCode        string
	SecuritySecretA string
	SecuritySecretB string
	SecurityFormula string

	// Value dating
	CutoffTime       time.Duration // offset from midnight
	SalaryCutoffTime time.Duration
	SalaryLeadDays   int

	// Store contention
	StoreBusyTimeout time.Duration
	StoreBusyRetries int
	StoreBusyBackoff time.Duration

	RunRetention time.Duration

	JWTSecret         string
	AccessTokenExpiry time.Duration
	OperatorKeyHash   string // bcrypt hash of the operator API key
	MaxConnections    int

	NotifierProvider     string
	MailgunDomain        string
	MailgunPrivateAPIKey string
	SenderEmail          string
	SenderName           string
	OperatorEmail        string
}

var Cfg *AppConfig

const (
	defaultSecretA   = "change-me-secret-a"
	defaultSecretB   = "change-me-secret-b"
	defaultJWTSecret = "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes"
)

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	secretA := getEnv("SECURITY_SECRET_A", defaultSecretA)
	secretB := getEnv("SECURITY_SECRET_B", defaultSecretB)
	if secretA == defaultSecretA || secretB == defaultSecretB {
		log.Println("WARNING: Using default SECURITY_SECRET_A/SECURITY_SECRET_B. Security check fields will not verify at the counterparty.")
	}

	jwtSecret := getEnv("JWT_SECRET", defaultJWTSecret)
	if jwtSecret == defaultJWTSecret {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	cutoff, err := ParseClock(getEnv("CUTOFF_TIME", "15:00"))
	if err != nil {
		log.Printf("WARNING: Invalid CUTOFF_TIME. Using default 15:00. Error: %v", err)
		cutoff = 15 * time.Hour
	}
	salaryCutoff, err := ParseClock(getEnv("SALARY_CUTOFF_TIME", "12:00"))
	if err != nil {
		log.Printf("WARNING: Invalid SALARY_CUTOFF_TIME. Using default 12:00. Error: %v", err)
		salaryCutoff = 12 * time.Hour
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	Cfg = &AppConfig{
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./SLIPS.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ConfigDir:          getEnv("CONFIG_DIR", "./config"),
		MaxUploadSizeBytes: maxUploadSizeBytes,

		BankCode:        getEnv("BANK_CODE", "7010"),
		SecuritySecretA: secretA,
		SecuritySecretB: secretB,
		SecurityFormula: getEnv("SECURITY_FORMULA", "blake2b"),

		CutoffTime:       cutoff,
		SalaryCutoffTime: salaryCutoff,
		SalaryLeadDays:   getEnvAsInt("SALARY_LEAD_DAYS", 0),

		StoreBusyTimeout: getEnvAsDuration("STORE_BUSY_TIMEOUT", 2*time.Second),
		StoreBusyRetries: getEnvAsInt("STORE_BUSY_RETRIES", 3),
		StoreBusyBackoff: getEnvAsDuration("STORE_BUSY_BACKOFF", 500*time.Millisecond),

		RunRetention: getEnvAsDuration("RUN_RETENTION", 24*time.Hour),

		JWTSecret:         jwtSecret,
		AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 12*time.Hour),
		OperatorKeyHash:   getEnv("OPERATOR_KEY_HASH", ""),
		MaxConnections:    getEnvAsInt("MAX_CONNECTIONS", 64),

		NotifierProvider:     getEnv("NOTIFIER_PROVIDER", "mock"),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "SLIPS Processor"),
		OperatorEmail:        getEnv("OPERATOR_EMAIL", ""),
	}

	if Cfg.SalaryLeadDays < 0 {
		log.Printf("WARNING: SALARY_LEAD_DAYS must not be negative (%d). Using 0.", Cfg.SalaryLeadDays)
		Cfg.SalaryLeadDays = 0
	}

	if Cfg.OperatorKeyHash == "" {
		log.Println("WARNING: OPERATOR_KEY_HASH not set. Operator login is disabled; issue tokens with -issue-token.")
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ConfigDir=%s, Cutoff=%s, Notifier=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ConfigDir, FormatClock(Cfg.CutoffTime), Cfg.NotifierProvider)
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
