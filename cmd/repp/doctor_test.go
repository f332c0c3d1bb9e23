package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"repp/internal/config"
	"repp/internal/rulebook"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestRunDoctor_MissingRulebook(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Rules.Path = filepath.Join(dir, "rules.yaml")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runDoctor(&out, cfgPath); err == nil {
		t.Fatal("expected failure for missing rulebook")
	}
	if !strings.Contains(out.String(), "[FAIL] Rulebook") {
		t.Errorf("expected rulebook failure in output:\n%s", out.String())
	}
}

func TestRunDoctor_Healthy(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rules, []byte(rulebook.Example), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults()
	cfg.Rules.Path = rules
	cfg.Slack.TokenFile = filepath.Join(dir, "none")
	cfg.Slack.AppTokenFile = filepath.Join(dir, "none")
	cfg.Discord.TokenFile = filepath.Join(dir, "none")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runDoctor(&out, cfgPath); err != nil {
		t.Fatalf("expected no failures, got %v:\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "1 scheduled") {
		t.Errorf("expected job count in output:\n%s", out.String())
	}
}
