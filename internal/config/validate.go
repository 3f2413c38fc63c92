package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.IntervalSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "INTERVAL_SECONDS",
			Message: "must be positive",
		})
	}
	if cfg.BinCount <= 0 {
		errs = append(errs, ValidationError{
			Field:   "BIN_COUNT",
			Message: "must be positive",
		})
	}
	if cfg.BinCount > 0 && cfg.IntervalSeconds > 0 && cfg.BinCount > cfg.IntervalSeconds {
		errs = append(errs, ValidationError{
			Field:   "BIN_COUNT",
			Message: fmt.Sprintf("must not exceed INTERVAL_SECONDS (%d > %d)", cfg.BinCount, cfg.IntervalSeconds),
		})
	}

	if cfg.MaxCV <= 0 {
		errs = append(errs, ValidationError{
			Field:   "MAX_CV",
			Message: "must be positive",
		})
	}

	if cfg.ScraperWebhookURL != "" {
		if err := validateWebhookURL(cfg.ScraperWebhookURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCRAPER_WEBHOOK_URL",
				Message: err.Error(),
			})
		}
	}

	if cfg.AuditEnabled {
		if err := validateCron(cfg.AuditSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "AUDIT_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.DBOpTimeoutStr != "" {
		if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCron(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	return err
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
