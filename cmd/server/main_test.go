package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"kedaipos/backend/internal/config"
	"kedaipos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected common pin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	cases := map[string]bool{
		"777777": false,
		"345678": false,
		"876543": false,
		"102030": false,
		"739154": true,
		"480215": true,
	}
	for pin, ok := range cases {
		err := validatePINStrength(pin)
		if ok && err != nil {
			t.Fatalf("pin %s: expected accepted, got %v", pin, err)
		}
		if !ok && err == nil {
			t.Fatalf("pin %s: expected rejected", pin)
		}
	}
}

func TestOpenStoreFallsBackToMemoryWithoutDatabaseURL(t *testing.T) {
	repo, closeFn, err := openStore(context.Background(), config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeFn()
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected in-memory store, got %T", repo)
	}
}
