package agent

import (
	"encoding/json"
	"testing"

	"github.com/nuvion/edge-agent/pkg/config"
	"github.com/nuvion/edge-agent/pkg/signaling"
)

func TestToWebSocketURLConvertsScheme(t *testing.T) {
	cases := map[string]string{
		"https://api.nuvion.test": "wss://api.nuvion.test",
		"http://api.nuvion.test":  "ws://api.nuvion.test",
		"ws://already":            "ws://already",
	}
	for in, want := range cases {
		if got := toWebSocketURL(in); got != want {
			t.Errorf("toWebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseHostOnlyExtractsHostname(t *testing.T) {
	if got := parseHostOnly("https://api.nuvion.test:8443/path"); got != "api.nuvion.test" {
		t.Errorf("parseHostOnly = %q, want api.nuvion.test", got)
	}
}

// TestBroadcastStartPayloadShape covers the exact wire shape of
// /app/broadcast/start (spec §6): codec parameters, feedback entries, and
// the device-chosen ssrc/cname must all be present.
func TestBroadcastStartPayloadShape(t *testing.T) {
	cfg := &config.Config{
		DeviceUsername:            "cam-1",
		RTPSSRC:                   12345,
		H264PacketizationMode:     1,
		H264ProfileLevelID:        "42e01f",
		H264LevelAsymmetryAllowed: true,
	}
	ready := signaling.EndpointReady{BroadcastID: "dev-1", IP: "10.0.0.5", Port: 40100, PayloadType: 101}

	payload := broadcastStartPayload(ready, cfg)

	if payload.BroadcastID != "dev-1" || payload.Kind != "video" {
		t.Fatalf("unexpected envelope: %+v", payload)
	}
	if len(payload.RTPParameters.Codecs) != 1 {
		t.Fatalf("expected exactly 1 codec, got %d", len(payload.RTPParameters.Codecs))
	}
	codec := payload.RTPParameters.Codecs[0]
	if codec.MimeType != "video/H264" || codec.PayloadType != 101 || codec.ClockRate != 90000 {
		t.Errorf("unexpected codec: %+v", codec)
	}
	if codec.Parameters.ProfileLevelID != "42e01f" || !codec.Parameters.LevelAsymmetryAllowed {
		t.Errorf("unexpected codec parameters: %+v", codec.Parameters)
	}
	if len(codec.RTCPFeedback) != 4 {
		t.Fatalf("expected 4 rtcp feedback entries, got %d", len(codec.RTCPFeedback))
	}
	if len(payload.RTPParameters.Encodings) != 1 || payload.RTPParameters.Encodings[0].SSRC != 12345 {
		t.Errorf("unexpected encodings: %+v", payload.RTPParameters.Encodings)
	}
	if payload.RTPParameters.RTCP.CNAME != "nuvion-cam-1" || !payload.RTPParameters.RTCP.ReducedSize {
		t.Errorf("unexpected rtcp settings: %+v", payload.RTPParameters.RTCP)
	}

	// Round-trip through JSON to confirm the wire field names match spec §6.
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["rtpParameters"]; !ok {
		t.Error("expected top-level rtpParameters key")
	}
}
