package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"paceline/internal/config"
)

func warningsContain(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestConfigWarnings_BareConfig(t *testing.T) {
	cfg := config.Config{}
	warnings := configWarnings(cfg)

	if !warningsContain(warnings, "SCRAPER_WEBHOOK_URL not set") {
		t.Error("expected log-only dispatch warning, got:", warnings)
	}
	if !warningsContain(warnings, "METRICS_ENABLED=false") {
		t.Error("expected metrics warning, got:", warnings)
	}
	if !warningsContain(warnings, "LEADER_ELECTION_ENABLED=false") {
		t.Error("expected leader election warning, got:", warnings)
	}
	if !warningsContain(warnings, "AUDIT_ENABLED=false") {
		t.Error("expected audit warning, got:", warnings)
	}
	if warningsContain(warnings, "SCRAPER_WEBHOOK_SECRET") {
		t.Error("did not expect unsigned-delivery warning without a webhook URL, got:", warnings)
	}
}

func TestConfigWarnings_UnsignedWebhook(t *testing.T) {
	cfg := config.Config{
		ScraperWebhookURL:     "https://scraper.example.com/batches",
		MetricsEnabled:        true,
		LeaderElectionEnabled: true,
		AuditEnabled:          true,
	}
	warnings := configWarnings(cfg)

	if !warningsContain(warnings, "SCRAPER_WEBHOOK_SECRET not set") {
		t.Error("expected unsigned-delivery warning, got:", warnings)
	}
	if warningsContain(warnings, "SCRAPER_WEBHOOK_URL not set") {
		t.Error("did not expect log-only warning with a webhook URL, got:", warnings)
	}
}

func TestConfigWarnings_FullProductionConfig(t *testing.T) {
	cfg := config.Config{
		ScraperWebhookURL:     "https://scraper.example.com/batches",
		ScraperWebhookSecret:  "s3cret",
		MetricsEnabled:        true,
		LeaderElectionEnabled: true,
		AuditEnabled:          true,
	}
	warnings := configWarnings(cfg)

	if len(warnings) != 0 {
		t.Error("expected no warnings for full production config, got:", warnings)
	}
}

func TestReadIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	content := "patient-001\n\n  patient-002  \npatient-003"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ids, err := readIdentifiers(path)
	if err != nil {
		t.Fatalf("readIdentifiers failed: %v", err)
	}
	want := []string{"patient-001", "patient-002", "patient-003"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestReadIdentifiers_MissingFile(t *testing.T) {
	if _, err := readIdentifiers(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
