package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds the immutable configuration snapshot read once at startup.
type Config struct {
	ServerBaseURL  string
	DeviceUsername string
	DevicePassword string

	RTPRemoteIPOverride string
	RTPSSRC             uint32

	H264Profile               string
	H264ProfileLevelID        string
	H264PacketizationMode     int
	H264LevelAsymmetryAllowed bool

	ZSADBackend               string
	ZSADClassifierURL         string
	ZeroShotSampleIntervalSec float64
	AnomalyMinIntervalSec     float64
	ProductionDedupSec        float64

	AnomalyLabels                 []string
	AnomalyThreshold              float64
	TritonThreshold               float64
	ProductionLabels              []string
	ProductionConfidenceThreshold float64

	ClipEnabled     bool
	ClipPreSec      float64
	ClipPostSec     float64
	ClipSegmentSec  float64
	ClipMaxSegments int
	ClipCooldownSec float64
	ClipOutputDir   string
	ClipContentType string

	LineID    *int
	ProcessID *int

	OutboundQueueMax int

	FFmpegPathOverride string
	VideoSource        string
	AuditLogPath       string
}

// defaults mirrors the values the spec calls out as sensible when a key is absent.
func defaults() *Config {
	return &Config{
		H264Profile:               "baseline",
		H264ProfileLevelID:        "42e01f",
		H264PacketizationMode:     1,
		H264LevelAsymmetryAllowed: true,
		ZSADBackend:               "none",
		ZeroShotSampleIntervalSec: 1.0,
		AnomalyMinIntervalSec:     5.0,
		ProductionDedupSec:        5.0,
		AnomalyThreshold:          0.5,
		TritonThreshold:           0.5,
		ProductionConfidenceThreshold: 0.5,
		ClipPreSec:                5.0,
		ClipPostSec:               5.0,
		ClipSegmentSec:            2.0,
		ClipMaxSegments:           30,
		ClipCooldownSec:           30.0,
		ClipOutputDir:             "clips",
		ClipContentType:           "video/mp4",
		OutboundQueueMax:          256,
		VideoSource:               "auto",
	}
}

// Load reads configuration from an env-style file: key=value lines, '#'
// comments, percent-encoded values unescaped on read. Only this shape is
// contract; no QR-pairing or browser-wizard loader exists in this package.
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if err := cfg.set(key, decodedValue); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "server_base_url":
		c.ServerBaseURL = value
	case "device_username":
		c.DeviceUsername = value
	case "device_password":
		c.DevicePassword = value
	case "rtp_remote_ip_override":
		c.RTPRemoteIPOverride = value
	case "rtp_ssrc":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.RTPSSRC = uint32(v)
	case "h264_profile":
		c.H264Profile = value
	case "h264_profile_level_id":
		c.H264ProfileLevelID = value
	case "h264_packetization_mode":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.H264PacketizationMode = v
	case "h264_level_asymmetry_allowed":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.H264LevelAsymmetryAllowed = v
	case "zsad_backend":
		c.ZSADBackend = value
	case "zsad_classifier_url":
		c.ZSADClassifierURL = value
	case "zero_shot_sample_interval_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ZeroShotSampleIntervalSec = v
	case "anomaly_min_interval_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.AnomalyMinIntervalSec = v
	case "production_dedup_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ProductionDedupSec = v
	case "anomaly_labels":
		c.AnomalyLabels = splitCSV(value)
	case "anomaly_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.AnomalyThreshold = v
	case "triton_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.TritonThreshold = v
	case "production_labels":
		c.ProductionLabels = splitCSV(value)
	case "production_confidence_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ProductionConfidenceThreshold = v
	case "clip_enabled":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.ClipEnabled = v
	case "clip_pre_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ClipPreSec = v
	case "clip_post_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ClipPostSec = v
	case "clip_segment_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ClipSegmentSec = v
	case "clip_max_segments":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.ClipMaxSegments = v
	case "clip_cooldown_sec":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		c.ClipCooldownSec = v
	case "clip_output_dir":
		c.ClipOutputDir = value
	case "clip_content_type":
		c.ClipContentType = value
	case "line_id":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.LineID = &v
	case "process_id":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.ProcessID = &v
	case "outbound_queue_max":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.OutboundQueueMax = v
	case "ffmpeg_path":
		c.FFmpegPathOverride = value
	case "video_source":
		c.VideoSource = value
	case "audit_log_path":
		c.AuditLogPath = value
	}
	return nil
}

// splitCSV parses a comma-separated label list, lowercasing each entry so
// that later label comparisons (against a classifier's returned label,
// itself lowercased) are case-insensitive.
func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.ServerBaseURL == "" {
		return fmt.Errorf("missing server_base_url")
	}
	if c.DeviceUsername == "" {
		return fmt.Errorf("missing device_username")
	}
	if c.DevicePassword == "" {
		return fmt.Errorf("missing device_password")
	}
	switch c.ZSADBackend {
	case "siglip", "triton", "none":
	default:
		return fmt.Errorf("invalid zsad_backend %q (must be siglip, triton, or none)", c.ZSADBackend)
	}
	if c.OutboundQueueMax <= 0 {
		return fmt.Errorf("outbound_queue_max must be positive")
	}
	return nil
}
