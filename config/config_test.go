package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(writeConfig(t, `{}`))

	if cfg.Session.Store != "inmemory" {
		t.Fatalf("session.store = %q", cfg.Session.Store)
	}
	if cfg.Agents.MaxSpecialistIterations != 3 {
		t.Fatalf("max_specialist_iterations = %d", cfg.Agents.MaxSpecialistIterations)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("session.ttl = %v", cfg.Session.TTL)
	}
	if cfg.Tools.WebSearch.Provider != "serper" {
		t.Fatalf("web_search.provider = %q", cfg.Tools.WebSearch.Provider)
	}
	if len(cfg.Agents.DefaultDataTools) != 3 {
		t.Fatalf("default data tools = %v", cfg.Agents.DefaultDataTools)
	}
}

func TestLoadConfigFileOverrides(t *testing.T) {
	cfg := LoadConfig(writeConfig(t, `{
		"server": {"address": ":9000"},
		"llm": {"routing": {"orchestrator": "gpt-4o"}},
		"agents": {"max_specialist_iterations": 5}
	}`))

	if cfg.Server.Address != ":9000" {
		t.Fatalf("server.address = %q", cfg.Server.Address)
	}
	if cfg.LLM.Routing.Orchestrator != "gpt-4o" {
		t.Fatalf("routing.orchestrator = %q", cfg.LLM.Routing.Orchestrator)
	}
	if cfg.Agents.MaxSpecialistIterations != 5 {
		t.Fatalf("max_specialist_iterations = %d", cfg.Agents.MaxSpecialistIterations)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DEEPRESEARCH_SESSION_TTL", "1h")

	cfg := LoadConfig(writeConfig(t, `{}`))

	if cfg.Session.TTL != time.Hour {
		t.Fatalf("session.ttl = %v, want env override", cfg.Session.TTL)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "research"}
	want := "postgres://u:p@db:5432/research?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}

	p.URL = "postgres://explicit"
	if got := p.DSN(); got != "postgres://explicit" {
		t.Fatalf("dsn = %q, want explicit url", got)
	}
}

func TestPostgresValidate(t *testing.T) {
	if err := (PostgresConfig{URL: "postgres://x"}).Validate(); err != nil {
		t.Fatalf("url-only config rejected: %v", err)
	}
	if err := (PostgresConfig{Host: "db"}).Validate(); err == nil {
		t.Fatal("missing port/dbname accepted")
	}
}
