package signaling

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ParseRTPEndpoint extracts the RTP destination advertised in an SDP blob:
// the connection address (c=), the video media port (m=video), and the
// payload type of the H.264 rtpmap entry (a=rtpmap:<pt> H264/90000).
//
// Property (spec invariant 8): for any SDP containing `c=IN IP4 X`,
// `m=video P RTP/AVP Q`, `a=rtpmap:Q H264/90000`, this returns exactly
// (X, P, Q).
func ParseRTPEndpoint(raw string) (ip string, port int, payloadType int, err error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", 0, 0, fmt.Errorf("parse sdp: %w", err)
	}

	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		ip = sd.ConnectionInformation.Address.Address
	}

	var video *sdp.MediaDescription
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "video" {
			video = md
			break
		}
	}
	if video == nil {
		return "", 0, 0, fmt.Errorf("no m=video section in sdp")
	}

	port = video.MediaName.Port.Value

	if ip == "" && video.ConnectionInformation != nil && video.ConnectionInformation.Address != nil {
		ip = video.ConnectionInformation.Address.Address
	}
	if ip == "" {
		return "", 0, 0, fmt.Errorf("no connection address in sdp")
	}

	for _, attr := range video.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) != 2 {
			continue
		}
		if !strings.Contains(strings.ToUpper(fields[1]), "H264") {
			continue
		}
		pt, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			continue
		}
		payloadType = pt
		return ip, port, payloadType, nil
	}

	return "", 0, 0, fmt.Errorf("no H264 rtpmap entry in sdp")
}
