package media

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	videoClockRate          = 90000 // Hz, per RTP H.264 clockRate
	pacerQueueDepth         = 10
	catchupThreshold        = 5
	catchupSpeedMultiplier  = 1.1
	maxPacketDelay          = 200 * time.Millisecond
)

// pacedUnit is a single access unit queued for timestamp-paced egress.
type pacedUnit struct {
	unit       AccessUnit
	receivedAt time.Time
}

// pacer is a leaky-bucket scheduler: it holds back access units so that the
// wall-clock gap between writes tracks the gap between their RTP
// timestamps, absorbing jitter in the encoder without ever dropping a
// packet (the bounded channel blocks the producer instead).
type pacer struct {
	logger *slog.Logger

	queue chan pacedUnit

	mu            sync.Mutex
	write         func(AccessUnit) error
	lastTimestamp uint32
	haveLast      bool

	statsMu      sync.Mutex
	sentCount    uint64
	droppedCount uint64
}

func newPacer(logger *slog.Logger) *pacer {
	return &pacer{
		logger: logger,
		queue:  make(chan pacedUnit, pacerQueueDepth),
	}
}

// setWriteCallback installs the function that actually emits a paced
// access unit (packetize + UDP send). Safe to call before Start.
func (p *pacer) setWriteCallback(w func(AccessUnit) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.write = w
}

// enqueue blocks if the bounded queue is full, absorbing bursts from a
// fast encoder rather than dropping frames silently.
func (p *pacer) enqueue(au AccessUnit) {
	select {
	case p.queue <- pacedUnit{unit: au, receivedAt: time.Now()}:
	default:
		p.logger.Warn("pacer queue full, blocking producer to absorb burst")
		p.queue <- pacedUnit{unit: au, receivedAt: time.Now()}
	}
}

// run drives the pacing loop until ctx is cancelled.
func (p *pacer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			delay := p.calculateDelay(item.unit.Timestamp)
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}

			p.mu.Lock()
			writeFn := p.write
			p.mu.Unlock()

			if writeFn == nil {
				continue
			}
			if err := writeFn(item.unit); err != nil {
				p.logger.Warn("pacer write callback failed", "error", err)
				p.statsMu.Lock()
				p.droppedCount++
				p.statsMu.Unlock()
				continue
			}
			p.statsMu.Lock()
			p.sentCount++
			p.statsMu.Unlock()
		}
	}
}

// calculateDelay converts the gap between successive RTP timestamps into a
// wall-clock duration, entering catch-up mode if the queue is backed up and
// capping any single delay so a long gap can't stall egress indefinitely.
func (p *pacer) calculateDelay(timestamp uint32) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.haveLast {
		p.lastTimestamp = timestamp
		p.haveLast = true
		return 0
	}

	deltaTicks := int64(timestamp) - int64(p.lastTimestamp)
	if deltaTicks < 0 {
		// uint32 wraparound
		deltaTicks += 1 << 32
	}
	p.lastTimestamp = timestamp

	delay := time.Duration(deltaTicks) * time.Second / videoClockRate

	if len(p.queue) >= catchupThreshold {
		delay = time.Duration(float64(delay) / catchupSpeedMultiplier)
	}
	if delay > maxPacketDelay {
		delay = maxPacketDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (p *pacer) stats() (sent, dropped uint64) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.sentCount, p.droppedCount
}
