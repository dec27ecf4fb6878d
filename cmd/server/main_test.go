package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fabirmss/notaFi/internal/config"
	"github.com/fabirmss/notaFi/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short", AllowedOrigin: "http://localhost:3000"}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"}); err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "http://localhost:3000"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToSeededMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("memory repository needs no closer")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	emitters, err := repo.ListEmitters(context.Background())
	if err != nil || len(emitters) == 0 {
		t.Fatalf("expected seeded emitters, got %d / %v", len(emitters), err)
	}
}
