package config

import "testing"

func TestValidate_DevelopmentDefaults(t *testing.T) {
	cfg := &Config{
		Env:              "development",
		EscrowHoldDays:   DefaultEscrowHoldDays,
		RefundWindowDays: DefaultRefundWindowDays,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("development config with defaults should validate: %v", err)
	}
}

func TestValidate_ProductionRequiresStripe(t *testing.T) {
	cfg := &Config{
		Env:              "production",
		DatabaseURL:      "postgres://localhost/workpay",
		EscrowHoldDays:   7,
		RefundWindowDays: 30,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("production config without Stripe keys should fail validation")
	}

	cfg.StripeSecretKey = "sk_live_x"
	cfg.StripeWebhookSecret = "whsec_x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete production config should validate: %v", err)
	}
}

func TestValidate_RejectsNonPositiveWindows(t *testing.T) {
	cfg := &Config{Env: "development", EscrowHoldDays: 0, RefundWindowDays: 30}
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero escrow hold days should fail")
	}
	cfg = &Config{Env: "development", EscrowHoldDays: 7, RefundWindowDays: -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative refund window should fail")
	}
}
