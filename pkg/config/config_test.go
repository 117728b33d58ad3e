package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeEnvFile(t, `
# minimal config
server_base_url=https://signal.example.com
device_username=device-1
device_password=s3cret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerBaseURL != "https://signal.example.com" {
		t.Errorf("ServerBaseURL = %q", cfg.ServerBaseURL)
	}
	if cfg.ZSADBackend != "none" {
		t.Errorf("expected default zsad_backend=none, got %q", cfg.ZSADBackend)
	}
	if cfg.OutboundQueueMax != 256 {
		t.Errorf("expected default outbound_queue_max=256, got %d", cfg.OutboundQueueMax)
	}
}

func TestLoadFullKeySet(t *testing.T) {
	path := writeEnvFile(t, `
server_base_url=https://signal.example.com
device_username=device-1
device_password=s%40cret
rtp_remote_ip_override=203.0.113.7
rtp_ssrc=123456
zsad_backend=siglip
zero_shot_sample_interval_sec=0.5
anomaly_min_interval_sec=5
anomaly_labels=scratch,dent,crack
anomaly_threshold=0.75
production_labels=part_ok
production_confidence_threshold=0.9
clip_enabled=true
clip_pre_sec=3
clip_post_sec=3
clip_segment_sec=1
clip_max_segments=10
clip_cooldown_sec=20
line_id=7
process_id=42
outbound_queue_max=64
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DevicePassword != "s@cret" {
		t.Errorf("expected percent-decoded password, got %q", cfg.DevicePassword)
	}
	if cfg.RTPSSRC != 123456 {
		t.Errorf("RTPSSRC = %d", cfg.RTPSSRC)
	}
	if len(cfg.AnomalyLabels) != 3 {
		t.Errorf("expected 3 anomaly labels, got %v", cfg.AnomalyLabels)
	}
	if cfg.LineID == nil || *cfg.LineID != 7 {
		t.Errorf("LineID = %v", cfg.LineID)
	}
	if cfg.ProcessID == nil || *cfg.ProcessID != 42 {
		t.Errorf("ProcessID = %v", cfg.ProcessID)
	}
	if cfg.OutboundQueueMax != 64 {
		t.Errorf("OutboundQueueMax = %d", cfg.OutboundQueueMax)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		cfg  func() *Config
	}{
		{"missing server base url", func() *Config { c := defaults(); c.DeviceUsername = "u"; c.DevicePassword = "p"; return c }},
		{"missing username", func() *Config { c := defaults(); c.ServerBaseURL = "x"; c.DevicePassword = "p"; return c }},
		{"bad backend", func() *Config {
			c := defaults()
			c.ServerBaseURL, c.DeviceUsername, c.DevicePassword = "x", "u", "p"
			c.ZSADBackend = "bogus"
			return c
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg().Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
