package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"castlebook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("CASTLEBOOK_DB_PATH", "castles.db")

	yamlContent := `
database:
  path: "${CASTLEBOOK_DB_PATH}"
  busy_timeout: 2s
bookings:
  timezone: "Europe/London"
  deposit_percent: 25
sweeper:
  interval: 30s
castles:
  - id: 5
    name: "Pirate Ship"
    price: 180
    maintenance_status: available
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "castles.db" {
		t.Errorf("expected expanded database path, got %s", cfg.Database.Path)
	}
	if cfg.Database.BusyTimeout != 2*time.Second {
		t.Errorf("expected busy_timeout 2s, got %s", cfg.Database.BusyTimeout)
	}
	if cfg.Bookings.DepositPercent != 25 {
		t.Errorf("expected deposit_percent 25, got %v", cfg.Bookings.DepositPercent)
	}
	if cfg.Sweeper.Interval != 30*time.Second {
		t.Errorf("expected sweeper interval 30s, got %s", cfg.Sweeper.Interval)
	}
	if cfg.Bookings.Location().String() != "Europe/London" {
		t.Errorf("expected Europe/London location, got %s", cfg.Bookings.Location())
	}
	if len(cfg.Castles) != 1 || cfg.Castles[0].ID != 5 {
		t.Errorf("expected 1 castle with ID 5")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Castles:  []models.Castle{{ID: 1, Name: "Castle 1"}},
			},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "telegram enabled without token",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Telegram: TelegramConfig{Enabled: true},
			},
			wantErr: true,
		},
		{
			name: "bad timezone",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Bookings: BookingsConfig{Timezone: "Mars/Olympus"},
			},
			wantErr: true,
		},
		{
			name: "deposit over 100",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Bookings: BookingsConfig{DepositPercent: 150},
			},
			wantErr: true,
		},
		{
			name: "legacy excluded status",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Bookings: BookingsConfig{ExcludedStatuses: []string{"cancelled"}},
			},
			wantErr: true,
		},
		{
			name: "empty api key",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				API: APIConfig{
					Enabled: true,
					Auth:    APIAuthConfig{Enabled: true, APIKeys: []APIClientKey{{Name: "ops"}}},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Bookings.DepositPercent != 30 {
		t.Errorf("expected default deposit percent 30, got %v", cfg.Bookings.DepositPercent)
	}
	if cfg.Bookings.ReferencePrefix != models.DefaultReferencePrefix {
		t.Errorf("expected default prefix %s, got %s", models.DefaultReferencePrefix, cfg.Bookings.ReferencePrefix)
	}
	if cfg.Bookings.MaxReferenceAttempts != models.DefaultReferenceAttempts {
		t.Errorf("expected %d reference attempts, got %d", models.DefaultReferenceAttempts, cfg.Bookings.MaxReferenceAttempts)
	}
	if got := cfg.Bookings.Excluded(); len(got) != 1 || got[0] != models.StatusExpired {
		t.Errorf("expected excluded statuses [expired], got %v", got)
	}
	if cfg.Retry.References.MaxAttempts != models.DefaultReferenceAttempts {
		t.Errorf("expected reference retry attempts %d, got %d", models.DefaultReferenceAttempts, cfg.Retry.References.MaxAttempts)
	}
	if cfg.API.HTTP.Port != 8080 {
		t.Errorf("expected default HTTP port 8080, got %d", cfg.API.HTTP.Port)
	}
	if cfg.Sweeper.BatchSize != models.DefaultSweepBatch {
		t.Errorf("expected default sweep batch %d, got %d", models.DefaultSweepBatch, cfg.Sweeper.BatchSize)
	}
}

func TestValidateCastles(t *testing.T) {
	tests := []struct {
		name    string
		castles []models.Castle
		wantErr bool
	}{
		{
			name:    "Valid castles",
			castles: []models.Castle{{ID: 1, Name: "Castle 1"}, {ID: 2, Name: "Castle 2"}},
			wantErr: false,
		},
		{
			name:    "Duplicate ID",
			castles: []models.Castle{{ID: 1, Name: "Castle 1"}, {ID: 1, Name: "Castle 2"}},
			wantErr: true,
		},
		{
			name:    "ID 0",
			castles: []models.Castle{{ID: 0, Name: "Castle 1"}},
			wantErr: true,
		},
		{
			name:    "Unknown maintenance status",
			castles: []models.Castle{{ID: 3, Name: "Castle 3", MaintenanceStatus: "broken"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCastles(tt.castles)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCastles() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadShippedConfig(t *testing.T) {
	t.Setenv("API_KEY_OFFICE", "office-key")
	t.Setenv("API_KEY_WEBSITE", "website-key")
	t.Setenv("API_KEY_ACCOUNTS", "accounts-key")
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("shipped config does not load: %v", err)
	}
	if len(cfg.Castles) == 0 {
		t.Errorf("expected castles in shipped config")
	}
	if cfg.Google.Enabled() {
		t.Errorf("calendar sync should be off without credentials")
	}
	for _, k := range cfg.API.Auth.APIKeys {
		if k.Name == "website" && k.Role != string(models.RoleCustomer) {
			t.Errorf("website key should have the customer role, got %q", k.Role)
		}
	}
}
