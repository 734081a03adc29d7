package database

import (
	"fmt"
	"log/slog"

	"fleetwatch/internal/config"
	"fleetwatch/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	DB = db
	slog.Info("Database connected", "host", cfg.DBHost, "db", cfg.DBName)
	return nil
}

func Migrate() error {
	return DB.AutoMigrate(
		&models.Host{},
		&models.MetricSample{},
		&models.AlertRule{},
		&models.Alert{},
	)
}

// SeedDefaultRules installs a baseline rule set on an empty installation.
// Existing rules (even disabled ones) suppress seeding.
func SeedDefaultRules(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.AlertRule{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []models.AlertRule{
		{Metric: "cpu_pct", Operator: models.OpGt, Threshold: 90, Severity: models.SeverityCritical, DurationSeconds: 30, Enabled: true, CooldownSeconds: 300},
		{Metric: "cpu_pct", Operator: models.OpGt, Threshold: 75, Severity: models.SeverityWarning, DurationSeconds: 60, Enabled: true, CooldownSeconds: 300},
		{Metric: "mem_pct", Operator: models.OpGt, Threshold: 90, Severity: models.SeverityCritical, DurationSeconds: 10, Enabled: true, CooldownSeconds: 300},
		{Metric: "mem_pct", Operator: models.OpGt, Threshold: 80, Severity: models.SeverityWarning, DurationSeconds: 30, Enabled: true, CooldownSeconds: 300},
		{Metric: "disk_pct", Operator: models.OpGt, Threshold: 90, Severity: models.SeverityCritical, Enabled: true, CooldownSeconds: 300},
		{Metric: "disk_pct", Operator: models.OpGt, Threshold: 80, Severity: models.SeverityWarning, Enabled: true, CooldownSeconds: 300},
	}

	if err := db.Create(&defaults).Error; err != nil {
		return fmt.Errorf("failed to seed default rules: %w", err)
	}
	slog.Info("Seeded default alert rules", "count", len(defaults))
	return nil
}
