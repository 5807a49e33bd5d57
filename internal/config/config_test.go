package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadClampsBadNumericValues(t *testing.T) {
	t.Setenv("CREDIT_TERM_DAYS", "junk")
	t.Setenv("INVOICE_CACHE_TTL_SECONDS", "-10")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.CreditTermDays != 30 {
		t.Fatalf("expected credit term fallback 30, got %d", cfg.CreditTermDays)
	}
	if cfg.InvoiceCacheTTLSeconds != 600 {
		t.Fatalf("expected invoice ttl fallback 600, got %d", cfg.InvoiceCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token ttl fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadParsesEnforceStock(t *testing.T) {
	t.Setenv("ENFORCE_STOCK", "true")
	if !Load().EnforceStock {
		t.Fatalf("expected ENFORCE_STOCK=true to enable stock enforcement")
	}
	t.Setenv("ENFORCE_STOCK", "1")
	if Load().EnforceStock {
		t.Fatalf("expected non-true value to leave enforcement off")
	}
}
