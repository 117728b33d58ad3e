package signaling

import "testing"

func TestParseRTPEndpointRoundTrip(t *testing.T) {
	sdp := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.5\r\n" +
		"t=0 0\r\n" +
		"m=video 40100 RTP/AVP 101\r\n" +
		"a=rtpmap:101 H264/90000\r\n"

	ip, port, pt, err := ParseRTPEndpoint(sdp)
	if err != nil {
		t.Fatalf("ParseRTPEndpoint: %v", err)
	}
	if ip != "10.0.0.5" {
		t.Errorf("ip = %q, want 10.0.0.5", ip)
	}
	if port != 40100 {
		t.Errorf("port = %d, want 40100", port)
	}
	if pt != 101 {
		t.Errorf("payloadType = %d, want 101", pt)
	}
}

func TestParseRTPEndpointMissingVideo(t *testing.T) {
	sdp := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 111\r\n"

	if _, _, _, err := ParseRTPEndpoint(sdp); err == nil {
		t.Fatal("expected error when no m=video section present")
	}
}

func TestParseRTPEndpointMissingH264Rtpmap(t *testing.T) {
	sdp := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.5\r\n" +
		"t=0 0\r\n" +
		"m=video 40100 RTP/AVP 100\r\n" +
		"a=rtpmap:100 VP8/90000\r\n"

	if _, _, _, err := ParseRTPEndpoint(sdp); err == nil {
		t.Fatal("expected error when no H264 rtpmap entry present")
	}
}
