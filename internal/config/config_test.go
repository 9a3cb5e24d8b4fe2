package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
pipeline:
  window_s: 8
  hop_s: 1.5
coaching:
  speaking_rate_threshold: 2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port: got %d want 9999", cfg.Server.Port)
	}
	if cfg.Pipeline.WindowS != 8 || cfg.Pipeline.HopS != 1.5 {
		t.Errorf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Coaching.SpeakingRateThreshold != 2.5 {
		t.Errorf("speaking rate threshold: got %v", cfg.Coaching.SpeakingRateThreshold)
	}
	// untouched fields keep defaults
	if cfg.Pipeline.TimeoutS != 5 {
		t.Errorf("timeout default lost: got %v", cfg.Pipeline.TimeoutS)
	}
	if cfg.Coaching.NudgeCooldownS != 10 {
		t.Errorf("cooldown default lost: got %v", cfg.Coaching.NudgeCooldownS)
	}
}

func TestLoad_RejectsHopNotLessThanWindow(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  window_s: 2
  hop_s: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for hop_s >= window_s")
	}
}

func TestValidate_Threshold(t *testing.T) {
	cfg := Default()
	cfg.Identify.SimilarityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for similarity_threshold > 1")
	}
}
