package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

type fakeFrameSink struct {
	offers []Frame
}

func (f *fakeFrameSink) Offer(frame Frame) bool {
	f.offers = append(f.offers, frame)
	return true
}

type fakeVideoSource struct {
	ch chan Frame
}

func (s *fakeVideoSource) Frames() <-chan Frame { return s.ch }

type fakeEncoder struct {
	ch chan AccessUnit
}

func (e *fakeEncoder) AccessUnits() <-chan AccessUnit { return e.ch }

// TestPipelineRunsWithNilSourceAndEncoder covers the external-collaborator
// case: no camera and no encoder wired in, and the pipeline must still
// start and stop cleanly without the frame-tap or encode branches.
func TestPipelineRunsWithNilSourceAndEncoder(t *testing.T) {
	p, err := New(Config{SSRC: 1}, nil, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	p.Close()
}

// TestPipelineConfigureRTPSinkReconfiguresLive covers invariant 7: the RTP
// sink can be reconfigured mid-stream and the reported endpoint takes the
// new host, port and payload type without needing a pipeline restart.
func TestPipelineConfigureRTPSinkReconfiguresLive(t *testing.T) {
	p, err := New(Config{SSRC: 1}, nil, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	host, port, pt, configured := p.RTPSinkEndpoint()
	if configured {
		t.Fatalf("expected sink to start unconfigured, got host=%s port=%d pt=%d", host, port, pt)
	}

	if err := p.ConfigureRTPSink("127.0.0.1", 45100, 101); err != nil {
		t.Fatalf("ConfigureRTPSink: %v", err)
	}
	host, port, pt, configured = p.RTPSinkEndpoint()
	if !configured || host != "127.0.0.1" || port != 45100 || pt != 101 {
		t.Fatalf("unexpected endpoint after first configure: host=%s port=%d pt=%d configured=%v", host, port, pt, configured)
	}

	if err := p.ConfigureRTPSink("127.0.0.1", 45200, 102); err != nil {
		t.Fatalf("ConfigureRTPSink: %v", err)
	}
	host, port, pt, configured = p.RTPSinkEndpoint()
	if !configured || port != 45200 || pt != 102 {
		t.Fatalf("unexpected endpoint after reconfigure: host=%s port=%d pt=%d configured=%v", host, port, pt, configured)
	}
}

// TestPipelineFansOutAccessUnitsToPacerAndSegments covers the encode
// branch's tee: each access unit reaches both the RTP pacer and the
// segment ring when clips are enabled.
func TestPipelineFansOutAccessUnitsToPacerAndSegments(t *testing.T) {
	dir := t.TempDir()
	encoder := &fakeEncoder{ch: make(chan AccessUnit, 4)}

	p, err := New(Config{
		SSRC:            1,
		ClipEnabled:     true,
		ClipSegmentDir:  dir,
		ClipSegmentSec:  10,
		ClipMaxSegments: 5,
	}, nil, encoder, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	encoder.ch <- AccessUnit{NALUs: [][]byte{{0x65}}, Keyframe: true, Timestamp: 0}
	time.Sleep(20 * time.Millisecond)

	sent, _ := p.PacerStats()
	// The first access unit has no prior timestamp to diff against, so the
	// pacer emits it with zero delay.
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}

	segs, err := filepath.Glob(filepath.Join(dir, "segment_*.mp4"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(segs) != 1 {
		t.Errorf("segment files = %d, want 1", len(segs))
	}
}
