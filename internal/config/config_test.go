package config

import (
	"os"
	"testing"
)

func TestConfigLoad(t *testing.T) {
	os.Setenv("ENVIRONMENT", "staging")
	os.Setenv("DATABASE_URL", "postgres://test")
	os.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	defer os.Unsetenv("ENVIRONMENT")
	defer os.Unsetenv("DATABASE_URL")
	defer os.Unsetenv("STRIPE_SECRET_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DatabaseURL != "postgres://test" {
		t.Errorf("Expected DatabaseURL 'postgres://test', got '%s'", cfg.DatabaseURL)
	}

	if cfg.StripeSecretKey != "sk_test_123" {
		t.Errorf("Expected StripeSecretKey 'sk_test_123', got '%s'", cfg.StripeSecretKey)
	}

	if cfg.AllowUnverifiedWebhooks {
		t.Error("Expected AllowUnverifiedWebhooks to default to false")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "Valid config",
			config: &Config{
				Environment: Development,
				DatabaseURL: "postgres://test",
			},
			wantErr: false,
		},
		{
			name: "Missing database URL",
			config: &Config{
				Environment: Development,
			},
			wantErr: true,
		},
		{
			name: "Unverified webhooks allowed outside production",
			config: &Config{
				Environment:             Development,
				DatabaseURL:             "postgres://test",
				AllowUnverifiedWebhooks: true,
			},
			wantErr: false,
		},
		{
			name: "Unverified webhooks rejected in production",
			config: &Config{
				Environment:             Production,
				DatabaseURL:             "postgres://test",
				AllowUnverifiedWebhooks: true,
			},
			wantErr: true,
		},
		{
			name: "Incomplete SMTP config",
			config: &Config{
				Environment: Development,
				DatabaseURL: "postgres://test",
				SMTPHost:    "smtp.gmail.com",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentHelpers(t *testing.T) {
	cfg := &Config{Environment: Development}
	if !cfg.IsDevelopment() {
		t.Error("Expected IsDevelopment() to be true")
	}
	if cfg.IsProduction() {
		t.Error("Expected IsProduction() to be false")
	}

	cfg.Environment = Production
	if cfg.IsDevelopment() {
		t.Error("Expected IsDevelopment() to be false")
	}
	if !cfg.IsProduction() {
		t.Error("Expected IsProduction() to be true")
	}
}
