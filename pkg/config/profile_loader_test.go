package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfile_Safe(t *testing.T) {
	profilesDir := locateProfiles(t)
	p, err := LoadProfile(profilesDir, "safe")
	if err != nil {
		t.Fatalf("LoadProfile(safe): %v", err)
	}
	if p.Name != "Safe" {
		t.Errorf("expected name 'Safe', got %q", p.Name)
	}
	if p.Rules.MaxLossPercent != 5 {
		t.Errorf("expected max loss 5, got %d", p.Rules.MaxLossPercent)
	}
	if p.Timelock.MinDelayHours != 48 {
		t.Errorf("expected 48h min delay, got %d", p.Timelock.MinDelayHours)
	}
}

func TestLoadProfile_Balanced(t *testing.T) {
	profilesDir := locateProfiles(t)
	p, err := LoadProfile(profilesDir, "balanced")
	if err != nil {
		t.Fatalf("LoadProfile(balanced): %v", err)
	}
	if p.Rules.DurationDays != 30 {
		t.Errorf("expected 30 day duration, got %d", p.Rules.DurationDays)
	}
	if p.Rules.MinFeeThreshold != "100" {
		t.Errorf("expected fee threshold 100, got %q", p.Rules.MinFeeThreshold)
	}
	if len(p.RateLimits) != 3 {
		t.Errorf("expected 3 rate limit entries, got %d", len(p.RateLimits))
	}
}

func TestLoadProfile_Aggressive(t *testing.T) {
	profilesDir := locateProfiles(t)
	p, err := LoadProfile(profilesDir, "aggressive")
	if err != nil {
		t.Fatalf("LoadProfile(aggressive): %v", err)
	}
	if p.Rules.MaxLossPercent != 25 {
		t.Errorf("expected max loss 25, got %d", p.Rules.MaxLossPercent)
	}
	if p.Oracle.MaxStalenessSeconds != 7200 {
		t.Errorf("expected 7200s staleness, got %d", p.Oracle.MaxStalenessSeconds)
	}
}

func TestLoadProfile_Unknown(t *testing.T) {
	profilesDir := locateProfiles(t)
	if _, err := LoadProfile(profilesDir, "reckless"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestLoadAllProfiles(t *testing.T) {
	profilesDir := locateProfiles(t)
	profiles, err := LoadAllProfiles(profilesDir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if len(profiles) < 3 {
		t.Errorf("expected at least 3 profiles, got %d", len(profiles))
	}
	for code, p := range profiles {
		if p.Name == "" {
			t.Errorf("profile %s has empty name", code)
		}
		if p.Code != code {
			t.Errorf("profile keyed %s carries code %s", code, p.Code)
		}
	}
}

func TestLoadProfile_CodeFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	yaml := "name: Experimental\nrules:\n  duration_days: 1\n  max_loss_percent: 50\n"
	if err := os.WriteFile(filepath.Join(dir, "profile_exp.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(dir, "EXP")
	if err != nil {
		t.Fatalf("LoadProfile(exp): %v", err)
	}
	if p.Code != "exp" {
		t.Errorf("expected code 'exp', got %q", p.Code)
	}

	profiles, err := LoadAllProfiles(dir)
	if err != nil {
		t.Fatalf("LoadAllProfiles: %v", err)
	}
	if _, ok := profiles["exp"]; !ok {
		t.Error("expected profile keyed by filename code")
	}
}

func locateProfiles(t *testing.T) string {
	t.Helper()
	candidates := []string{
		"profiles",
		"../config/profiles",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	wd, _ := os.Getwd()
	p := filepath.Join(wd, "profiles")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	t.Skip("profiles directory not found")
	return ""
}
