package agent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nuvion/edge-agent/pkg/config"
	"github.com/nuvion/edge-agent/pkg/signaling"
)

// toWebSocketURL converts the HTTP(S) server base URL into the ws(s) base
// the signaling client dials; the sockjs session path is appended by
// signaling.Client itself.
func toWebSocketURL(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://")
	default:
		return rawURL
	}
}

// parseHostOnly extracts the bare hostname from a URL, used to decide
// whether an upload-URL host matches the signaling server (spec §4.H's
// bearer-token attach rule).
func parseHostOnly(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

type rtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type codecParameters struct {
	PacketizationMode     int    `json:"packetization-mode"`
	ProfileLevelID        string `json:"profile-level-id"`
	LevelAsymmetryAllowed bool   `json:"level-asymmetry-allowed"`
}

type codec struct {
	MimeType     string          `json:"mimeType"`
	PayloadType  int             `json:"payloadType"`
	ClockRate    int             `json:"clockRate"`
	Parameters   codecParameters `json:"parameters"`
	RTCPFeedback []rtcpFeedback  `json:"rtcpFeedback"`
}

type encoding struct {
	SSRC uint32 `json:"ssrc"`
}

type rtcpSettings struct {
	CNAME       string `json:"cname"`
	ReducedSize bool   `json:"reducedSize"`
}

type rtpParameters struct {
	Codecs           []codec      `json:"codecs"`
	Encodings        []encoding   `json:"encodings"`
	HeaderExtensions []any        `json:"headerExtensions"`
	RTCP             rtcpSettings `json:"rtcp"`
}

// broadcastStartMessage is the exact wire shape of /app/broadcast/start
// (spec §6).
type broadcastStartMessage struct {
	BroadcastID   string        `json:"broadcastId"`
	Kind          string        `json:"kind"`
	RTPParameters rtpParameters `json:"rtpParameters"`
}

// broadcastStartPayload builds the device-chosen RTP parameters announced
// once the RTP sink has been pointed at the server-advertised endpoint.
func broadcastStartPayload(ready signaling.EndpointReady, cfg *config.Config) broadcastStartMessage {
	return broadcastStartMessage{
		BroadcastID: ready.BroadcastID,
		Kind:        "video",
		RTPParameters: rtpParameters{
			Codecs: []codec{{
				MimeType:    "video/H264",
				PayloadType: ready.PayloadType,
				ClockRate:   90000,
				Parameters: codecParameters{
					PacketizationMode:     cfg.H264PacketizationMode,
					ProfileLevelID:        cfg.H264ProfileLevelID,
					LevelAsymmetryAllowed: cfg.H264LevelAsymmetryAllowed,
				},
				RTCPFeedback: []rtcpFeedback{
					{Type: "nack"},
					{Type: "nack", Parameter: "pli"},
					{Type: "ccm", Parameter: "fir"},
					{Type: "goog-remb"},
				},
			}},
			Encodings:        []encoding{{SSRC: cfg.RTPSSRC}},
			HeaderExtensions: []any{},
			RTCP: rtcpSettings{
				CNAME:       fmt.Sprintf("nuvion-%s", cfg.DeviceUsername),
				ReducedSize: true,
			},
		},
	}
}
