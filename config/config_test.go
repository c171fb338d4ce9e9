package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultHasSaneBounds(t *testing.T) {
	cfg := Default()
	if cfg.LocalDomain == "" || cfg.MUCDomain == "" {
		t.Fatalf("expected non-empty domains in %+v", cfg)
	}
	if cfg.Modules.ISR.MaxValidity != 86400*time.Second {
		t.Fatalf("expected ISR max validity 86400s, got %v", cfg.Modules.ISR.MaxValidity)
	}
	if cfg.Modules.SM.MaxUnackedQueue != 256 {
		t.Fatalf("expected SM unacked bound 256, got %d", cfg.Modules.SM.MaxUnackedQueue)
	}
	if _, ok := cfg.Modules.Enabled["mam"]; !ok {
		t.Fatalf("expected mam enabled by default")
	}
}

func TestLoadOverlaysOnDefaults(t *testing.T) {
	yaml := `
local_domain: waddle.example
registration_enabled: true
modules:
  isr:
    max_stored_tokens: 42
`
	cfg, err := Load(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LocalDomain != "waddle.example" {
		t.Fatalf("expected overridden local_domain, got %q", cfg.LocalDomain)
	}
	if !cfg.RegistrationEnabled {
		t.Fatalf("expected registration_enabled true")
	}
	if cfg.Modules.ISR.MaxStoredTokens != 42 {
		t.Fatalf("expected overridden max_stored_tokens 42, got %d", cfg.Modules.ISR.MaxStoredTokens)
	}
	// fields untouched by the overlay keep Default()'s values.
	if cfg.MUCDomain != "conference.localhost" {
		t.Fatalf("expected default muc_domain preserved, got %q", cfg.MUCDomain)
	}
	if cfg.Modules.SM.MaxUnackedQueue != 256 {
		t.Fatalf("expected default SM bound preserved, got %d", cfg.Modules.SM.MaxUnackedQueue)
	}
}

func TestLoadEmptyReaderYieldsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if cfg.LocalDomain != Default().LocalDomain {
		t.Fatalf("expected defaults preserved on empty input")
	}
}
