// Package media simulates the GStreamer element graph described by the
// component design: source -> tee -> (appsink | overlay -> tee -> (rtp_sink
// | splitmuxsink)). No Go GStreamer binding exists anywhere in the
// retrieved corpus, so each named element becomes a plain Go value with the
// same externally-observable contract (configure_rtp_sink,
// update_overlay_text, frame-tap offer, segment rotation) instead of a
// binding to a real media framework.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameSink receives raw frames off the appsink branch. Offer must never
// block; pkg/inference.Dispatcher satisfies this interface.
type FrameSink interface {
	Offer(Frame) bool
}

// Config configures the simulated graph: the RTP synchronization source
// used by rtp_pay, and the clip_sink ring parameters.
type Config struct {
	SSRC uint32

	ClipEnabled     bool
	ClipSegmentDir  string
	ClipSegmentSec  float64
	ClipMaxSegments int
}

// Pipeline is the running media graph: component E (controller) plus
// component F (frame tap) plus the clip_sink branch's segment ring.
type Pipeline struct {
	logger *slog.Logger

	source   VideoSource
	encoder  Encoder
	frameTap FrameSink

	rtpSink  *rtpSink
	pacer    *pacer
	segments *segmentWriter // nil if clip disabled

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds the graph. frameTap may be nil if no inference dispatcher is
// wired (equivalent to zsad_backend=none dropping the appsink branch's
// consumer).
func New(cfg Config, source VideoSource, encoder Encoder, frameTap FrameSink, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{
		logger:   logger,
		source:   source,
		encoder:  encoder,
		frameTap: frameTap,
		rtpSink:  newRTPSink(logger.With("element", "rtp_sink"), cfg.SSRC),
		pacer:    newPacer(logger.With("element", "pacer")),
	}
	p.pacer.setWriteCallback(p.rtpSink.write)

	if cfg.ClipEnabled {
		segDur := time.Duration(cfg.ClipSegmentSec * float64(time.Second))
		sw, err := newSegmentWriter(logger.With("element", "clip_sink"), cfg.ClipSegmentDir, segDur, cfg.ClipMaxSegments)
		if err != nil {
			return nil, fmt.Errorf("construct pipeline: %w", err)
		}
		p.segments = sw
	}

	return p, nil
}

// Start launches three goroutines: the RTP pacer loop, the frame tap
// draining the source into the inference dispatcher, and the encode-branch
// fan-out into the RTP pacer and the clip_sink segment ring. It returns
// right after launching them; it does not block.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pacer.run(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runFrameTap(ctx)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runEncodeBranch(ctx)
	}()
}

// runFrameTap is component F: it pulls raw frames off the source and
// offers each to the frame sink, never blocking the source.
func (p *Pipeline) runFrameTap(ctx context.Context) {
	if p.source == nil {
		return
	}
	frames := p.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if p.frameTap == nil {
				continue
			}
			if !p.frameTap.Offer(f) {
				p.logger.Debug("frame tap dropped frame, dispatcher busy or rate-limited")
			}
		}
	}
}

// runEncodeBranch is the enc_t tee: every access unit is fanned out to the
// RTP pacer (rtp_pay/rtp_sink branch) and, if clips are enabled, to the
// segment ring (h264parse/splitmuxsink branch).
func (p *Pipeline) runEncodeBranch(ctx context.Context) {
	if p.encoder == nil {
		return
	}
	units := p.encoder.AccessUnits()
	for {
		select {
		case <-ctx.Done():
			return
		case au, ok := <-units:
			if !ok {
				return
			}
			p.pacer.enqueue(au)
			if p.segments != nil {
				if err := p.segments.write(au); err != nil {
					p.logger.Warn("failed to write clip segment", "error", err)
				}
			}
		}
	}
}

// ConfigureRTPSink reconfigures rtp_sink/rtp_pay live, per spec §4.E. Safe
// to call from any goroutine.
func (p *Pipeline) ConfigureRTPSink(host string, port int, payloadType int) error {
	return p.rtpSink.Configure(host, port, payloadType)
}

// RTPSinkEndpoint reports the currently configured RTP destination, for
// tests and diagnostics (spec invariant 7).
func (p *Pipeline) RTPSinkEndpoint() (host string, port int, payloadType int, configured bool) {
	return p.rtpSink.Endpoint()
}

// PacerStats reports how many access units have been sent/dropped by the
// RTP egress pacer, for the periodic stats log.
func (p *Pipeline) PacerStats() (sent, dropped uint64) {
	return p.pacer.stats()
}

// Close stops all tee-consumer goroutines and closes every owned element.
// A pipeline construction error is the one fatal case in the error table
// (§7); errors from closing the elements are ignored.
func (p *Pipeline) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.rtpSink.close()
	if p.segments != nil {
		p.segments.close()
	}
}
