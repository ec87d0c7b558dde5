package store

import (
	"testing"
	"time"

	"streamwarden/internal/models"
)

func TestSettingUpsert(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("GetSetting(missing) = %q, %v", v, err)
	}

	if err := s.SetSetting("k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, _ := s.GetSetting("k"); v != "v2" {
		t.Fatalf("GetSetting = %q, want v2", v)
	}
}

func TestPolicyConfigDefaults(t *testing.T) {
	s := newTestStore(t)

	config, err := s.GetPolicyConfig()
	if err != nil {
		t.Fatalf("GetPolicyConfig: %v", err)
	}
	if config.Enabled {
		t.Error("expected policy disabled by default")
	}
	if config.GracePeriod != 5*time.Second || config.Cooldown != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", config)
	}
}

func TestPolicyConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	config := models.DefaultPolicyConfig()
	config.Enabled = true
	config.BackendIDs = []int64{1, 3}
	config.Message = "no 4K transcodes"
	if err := s.SetPolicyConfig(config); err != nil {
		t.Fatalf("SetPolicyConfig: %v", err)
	}

	got, err := s.GetPolicyConfig()
	if err != nil {
		t.Fatalf("GetPolicyConfig: %v", err)
	}
	if !got.Enabled || len(got.BackendIDs) != 2 || got.Message != "no 4K transcodes" {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.SourceMinHeight != 2160 || got.DeliveredMaxHeight != 1080 {
		t.Fatalf("thresholds lost: %+v", got)
	}
}
