package media

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const rtpMTU = 1200

// defaultSinkHost and defaultSinkPort are the bind-all placeholder the sink
// holds until ConfigureRTPSink supplies the real viewer endpoint; no packet
// is ever sent before that call.
const (
	defaultSinkHost = "0.0.0.0"
	defaultSinkPort = 5004
)

// rtpSink packetizes access units into H.264/RTP and writes them to a UDP
// destination. It never sends a packet until ConfigureRTPSink has been
// called at least once.
type rtpSink struct {
	logger *slog.Logger

	mu          sync.Mutex
	configured  bool
	host        string
	port        int
	payloadType uint8
	ssrc        uint32
	conn        *net.UDPConn

	payloader *codecs.H264Payloader
	seqNum    uint16

	rtcpConn   *net.UDPConn
	rtcpCancel chan struct{}
}

func newRTPSink(logger *slog.Logger, ssrc uint32) *rtpSink {
	return &rtpSink{
		logger:      logger,
		host:        defaultSinkHost,
		port:        defaultSinkPort,
		payloadType: 96,
		ssrc:        ssrc,
		payloader:   &codecs.H264Payloader{},
		seqNum:      uint16(time.Now().UnixNano() & 0xffff),
	}
}

// Configure points the sink at a concrete viewer endpoint. Only after this
// call does write ever emit a packet onto the wire.
func (s *rtpSink) Configure(host string, port int, payloadType int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.rtcpCancel != nil {
		close(s.rtcpCancel)
		s.rtcpCancel = nil
	}
	if s.rtcpConn != nil {
		s.rtcpConn.Close()
		s.rtcpConn = nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("resolve rtp sink address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial rtp sink: %w", err)
	}

	s.host = host
	s.port = port
	s.payloadType = uint8(payloadType)
	s.conn = conn
	s.configured = true

	s.logger.Info("rtp sink configured", "host", host, "port", port, "payload_type", payloadType)

	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
	if err != nil {
		s.logger.Warn("rtcp reader unavailable, continuing without feedback diagnostics", "error", err)
		return nil
	}
	s.rtcpConn = rtcpConn
	s.rtcpCancel = make(chan struct{})
	go s.readRTCP(rtcpConn, s.rtcpCancel)

	return nil
}

// Endpoint reports the currently configured destination, for tests and
// diagnostics.
func (s *rtpSink) Endpoint() (host string, port int, payloadType int, configured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, s.port, int(s.payloadType), s.configured
}

// write packetizes one access unit and sends it as one or more RTP packets.
// It is a no-op (other than a debug log) until Configure has been called.
func (s *rtpSink) write(au AccessUnit) error {
	s.mu.Lock()
	conn := s.conn
	configured := s.configured
	pt := s.payloadType
	seqNum := s.seqNum
	s.mu.Unlock()

	if !configured || conn == nil {
		s.logger.Debug("dropping access unit, rtp sink not yet configured")
		return nil
	}

	for naluIdx, nalu := range au.NALUs {
		payloads := s.payloader.Payload(rtpMTU, nalu)
		for i, payload := range payloads {
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    pt,
					SequenceNumber: seqNum,
					Timestamp:      au.Timestamp,
					SSRC:           s.ssrc,
					Marker:         naluIdx == len(au.NALUs)-1 && i == len(payloads)-1,
				},
				Payload: payload,
			}
			buf, err := packet.Marshal()
			if err != nil {
				return fmt.Errorf("marshal rtp packet: %w", err)
			}
			if _, err := conn.Write(buf); err != nil {
				return fmt.Errorf("write rtp packet: %w", err)
			}
			seqNum++
		}
	}

	s.mu.Lock()
	s.seqNum = seqNum
	s.mu.Unlock()

	return nil
}

func (s *rtpSink) readRTCP(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				s.logger.Warn("rtcp PLI received, viewer requesting keyframe", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				s.logger.Warn("rtcp FIR received, viewer requesting keyframe", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				s.logger.Debug("rtcp REMB received", "bitrate_bps", pkt.Bitrate)
			}
		}
	}
}

func (s *rtpSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rtcpCancel != nil {
		close(s.rtcpCancel)
		s.rtcpCancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.rtcpConn != nil {
		s.rtcpConn.Close()
		s.rtcpConn = nil
	}
}
