package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single user)
	AdminUsername    string
	AdminPassword    string
	AdminDisplayName string
	AdminRole        string
	JWTSecret        string

	// Notifications
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPass     string
	SMTPFrom     string
	AlertEmailTo string
	WebhookURL   string

	// Pipeline tuning
	RetentionDays     int // metric rows older than this are pruned
	HeartbeatInterval int // seconds between offline sweeps
	HeartbeatTimeout  int // seconds of silence before a host is offline
	LogRingCapacity   int // per-host log ring buffer size
	DetailsMaxBytes   int // cap on a cached detail snapshot
}

func Load() *Config {
	smtpPort, _ := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	retentionDays, _ := strconv.Atoi(getEnv("METRIC_RETENTION_DAYS", "30"))
	hbInterval, _ := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL_SECONDS", "30"))
	hbTimeout, _ := strconv.Atoi(getEnv("HEARTBEAT_TIMEOUT_SECONDS", "60"))
	ringCap, _ := strconv.Atoi(getEnv("LOG_RING_CAPACITY", "500"))
	detailsMax, _ := strconv.Atoi(getEnv("DETAILS_MAX_BYTES", "1048576"))

	return &Config{
		Port:              getEnv("PORT", "3001"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "fleetwatch"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName:  getEnv("ADMIN_DISPLAY_NAME", "Admin"),
		AdminRole:         getEnv("ADMIN_ROLE", "admin"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          smtpPort,
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPass:          getEnv("SMTP_PASS", ""),
		SMTPFrom:          getEnv("SMTP_FROM", "fleetwatch@localhost"),
		AlertEmailTo:      getEnv("ALERT_EMAIL_TO", ""),
		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		RetentionDays:     retentionDays,
		HeartbeatInterval: hbInterval,
		HeartbeatTimeout:  hbTimeout,
		LogRingCapacity:   ringCap,
		DetailsMaxBytes:   detailsMax,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
