// Package inference is component G: it rate-limits frame submission to a
// single in-flight classifier worker, debounces DEFECT/NORMAL status
// transitions, and emits alerts (and an optional production-count
// side-effect) onto the signaling client's outbound queue.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nuvion/edge-agent/pkg/media"
)

// Status is the tagged anomaly status the spec's AlertStatus carries. The
// zero value is distinguishable from both NORMAL and DEFECT, which is what
// lets send_status suppress only the very first NORMAL after startup.
type Status string

const (
	StatusUnset  Status = ""
	StatusNormal Status = "NORMAL"
	StatusDefect Status = "DEFECT"
)

// Severity mirrors the spec's severity enum on the alert payload.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
)

// ClassifyResult is what the classifier collaborator returns: a label and
// a confidence score. Interpretation into an anomaly decision is the
// dispatcher's job, not the classifier's (backends differ in threshold
// semantics per spec §4.G).
type ClassifyResult struct {
	Label string
	Score float64
}

// Classifier is the model/preprocessor collaborator. Implementing a real
// classifier is out of scope (spec §1 Non-goals); this interface is the
// entire surface this package consumes from it.
type Classifier interface {
	Classify(ctx context.Context, frame media.Frame) (ClassifyResult, error)
}

// AlertSink is the narrow outbound surface this package needs from the
// signaling client: *signaling.Client.Enqueue satisfies this structurally,
// so this package never imports pkg/signaling (spec §9's one-way
// dependency resolution for the G<->D relationship).
type AlertSink interface {
	Enqueue(destination string, payload any) bool
}

// ClipStarter is the narrow surface this package needs from the clip
// subsystem: *clip.Subsystem.StartClipUpload satisfies this structurally,
// resolving the G<->H cyclic reference the same way (spec §9).
type ClipStarter interface {
	StartClipUpload() (objectName string, ok bool)
}

// OverlaySetter is the narrow surface this package needs from the overlay
// updater (component I): set the on-screen text for the latest
// classification result.
type OverlaySetter interface {
	Set(text string)
}

// AuditSink records every dispatched alert/production event independent of
// the operational log stream; *auditlog.Logger satisfies this.
type AuditSink interface {
	Alert(status, label string, score float64, severity, clipObject, clipStatus string)
	Production(count int)
}

// AlertPayload is the exact wire shape of /app/device/anomaly (spec §6).
type AlertPayload struct {
	AnomalyType    string   `json:"anomalyType"`
	AnomalyStatus  Status   `json:"anomalyStatus"`
	Message        string   `json:"message"`
	Severity       Severity `json:"severity"`
	LineID         *int     `json:"lineId"`
	ProcessID      *int     `json:"processId"`
	SnapshotObject *string  `json:"snapshotObject"`
	ClipObject     *string  `json:"clipObject"`
	ClipStatus     *string  `json:"clipStatus"`
}

// ProductionPayload is the exact wire shape of /app/device/production.
type ProductionPayload struct {
	Count     int  `json:"count"`
	LineID    *int `json:"lineId"`
	ProcessID *int `json:"processId"`
}

// Config configures the dispatcher per the spec's Data Model (§3) fields
// relevant to component G.
type Config struct {
	Backend string // "siglip", "triton", or "none"

	ZeroShotSampleIntervalSec float64
	AnomalyMinIntervalSec     float64
	ProductionDedupSec        float64

	AnomalyLabels []string
	AnomalyThreshold float64
	TritonThreshold  float64

	ProductionLabels              []string
	ProductionConfidenceThreshold float64

	LineID    *int
	ProcessID *int
}

// state is DispatcherState from spec §3, mutated only under mu.
type state struct {
	lastSentStatus          Status
	lastSentTimestamp       time.Time
	lastSampleTimestamp     time.Time
	lastProductionTimestamp time.Time
}

// Dispatcher is component G.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	classifier  Classifier
	alertSink   AlertSink
	clipStarter ClipStarter
	audit       AuditSink
	overlay     OverlaySetter

	limiter *rate.Limiter
	frames  chan media.Frame

	mu sync.Mutex
	st state

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Dispatcher. clipStarter, audit, and overlay may be nil
// (clips disabled, no audit trail configured, no overlay wired,
// respectively).
func New(cfg Config, classifier Classifier, alertSink AlertSink, clipStarter ClipStarter, audit AuditSink, overlay OverlaySetter, logger *slog.Logger) *Dispatcher {
	limit := rate.Inf
	if cfg.ZeroShotSampleIntervalSec > 0 {
		limit = rate.Every(time.Duration(cfg.ZeroShotSampleIntervalSec * float64(time.Second)))
	}
	return &Dispatcher{
		cfg:         cfg,
		logger:      logger,
		classifier:  classifier,
		alertSink:   alertSink,
		clipStarter: clipStarter,
		audit:       audit,
		overlay:     overlay,
		limiter:     rate.NewLimiter(limit, 1),
		frames:      make(chan media.Frame, 1),
	}
}

// Offer is component F's entry point into G: non-blocking, rejects frames
// that arrive faster than ZeroShotSampleIntervalSec or when the single-slot
// channel is already full (invariant 1: at most one classification runs
// concurrently; invariant 6: rejected offers must not affect the sampling
// clock beyond the limiter's own token-bucket decision).
func (d *Dispatcher) Offer(f media.Frame) bool {
	if d.cfg.Backend == "none" {
		return false
	}
	if !d.limiter.Allow() {
		return false
	}
	select {
	case d.frames <- f:
		d.mu.Lock()
		d.st.lastSampleTimestamp = time.Now()
		d.mu.Unlock()
		return true
	default:
		return false
	}
}

// Start launches the single worker goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.cfg.Backend == "none" {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop cancels the worker and waits for any in-flight classify call to
// return. Per §5, shutdown is cooperative: the worker observes ctx.Done()
// between frames via its receive timeout.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

const frameReceiveTimeout = 500 * time.Millisecond

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-d.frames:
			d.classifyAndDispatch(ctx, frame)
		case <-time.After(frameReceiveTimeout):
			// Short timeout so shutdown stays responsive even with no frames.
		}
	}
}

func (d *Dispatcher) classifyAndDispatch(ctx context.Context, frame media.Frame) {
	result, err := d.classifier.Classify(ctx, frame)
	if err != nil {
		d.logger.Warn("classifier failed, skipping frame", "error", err)
		return
	}

	isAnomaly := d.isAnomaly(result)
	status := StatusNormal
	if isAnomaly {
		status = StatusDefect
	}

	severity := SeverityInfo
	if status == StatusDefect {
		severity = SeverityWarning
	}
	message := fmt.Sprintf("%s (score=%.3f)", result.Label, result.Score)

	if d.overlay != nil {
		d.overlay.Set(fmt.Sprintf("%s %s %.2f", status, result.Label, result.Score))
	}

	d.sendStatus(status, result.Label, message, severity, result.Score)
	d.maybeReportProduction(result)
}

// isAnomaly applies the backend-specific interpretation of a classify
// result (spec §4.G).
func (d *Dispatcher) isAnomaly(r ClassifyResult) bool {
	switch d.cfg.Backend {
	case "siglip":
		if r.Score < d.cfg.AnomalyThreshold {
			return false
		}
		return containsLabel(d.cfg.AnomalyLabels, r.Label)
	case "triton":
		return r.Score >= d.cfg.TritonThreshold
	default:
		return false
	}
}

// sendStatus implements the debounce algorithm from spec §4.G verbatim.
func (d *Dispatcher) sendStatus(status Status, label, message string, severity Severity, score float64) {
	now := time.Now()

	d.mu.Lock()
	prevStatus := d.st.lastSentStatus
	statusChanged := prevStatus == StatusUnset || status != prevStatus

	if prevStatus == StatusUnset && status == StatusNormal {
		d.mu.Unlock()
		return
	}

	emit := false
	if statusChanged {
		emit = true
	} else if status == StatusDefect && now.Sub(d.st.lastSentTimestamp) >= d.minInterval() {
		emit = true
	}
	d.mu.Unlock()

	if !emit {
		return
	}

	var clipObject, clipStatus *string
	if status == StatusDefect && statusChanged && d.clipStarter != nil {
		if obj, ok := d.clipStarter.StartClipUpload(); ok {
			uploading := "UPLOADING"
			clipObject = &obj
			clipStatus = &uploading
		}
	}

	payload := AlertPayload{
		AnomalyType:   label,
		AnomalyStatus: status,
		Message:       message,
		Severity:      severity,
		LineID:        d.cfg.LineID,
		ProcessID:     d.cfg.ProcessID,
		ClipObject:    clipObject,
		ClipStatus:    clipStatus,
	}

	if !d.alertSink.Enqueue("/app/device/anomaly", payload) {
		return
	}

	d.mu.Lock()
	d.st.lastSentStatus = status
	d.st.lastSentTimestamp = now
	d.mu.Unlock()

	if d.audit != nil {
		co, cs := "", ""
		if clipObject != nil {
			co = *clipObject
		}
		if clipStatus != nil {
			cs = *clipStatus
		}
		d.audit.Alert(string(status), label, score, string(severity), co, cs)
	}

	if statusChanged {
		d.logger.Info("sent status (change)", "status", status, "label", label)
	} else {
		d.logger.Info("sent status (repeat)", "status", status, "label", label)
	}
}

func (d *Dispatcher) minInterval() time.Duration {
	return time.Duration(d.cfg.AnomalyMinIntervalSec * float64(time.Second))
}

// maybeReportProduction enqueues a deduplicated production-count event,
// independent of the anomaly debounce state machine (spec §4.G).
func (d *Dispatcher) maybeReportProduction(r ClassifyResult) {
	if !containsLabel(d.cfg.ProductionLabels, r.Label) {
		return
	}
	if r.Score < d.cfg.ProductionConfidenceThreshold {
		return
	}

	now := time.Now()
	d.mu.Lock()
	dedupOK := now.Sub(d.st.lastProductionTimestamp) >= time.Duration(d.cfg.ProductionDedupSec*float64(time.Second))
	if dedupOK {
		d.st.lastProductionTimestamp = now
	}
	d.mu.Unlock()
	if !dedupOK {
		return
	}

	payload := ProductionPayload{Count: 1, LineID: d.cfg.LineID, ProcessID: d.cfg.ProcessID}
	if !d.alertSink.Enqueue("/app/device/production", payload) {
		return
	}
	if d.audit != nil {
		d.audit.Production(1)
	}
}

// containsLabel reports whether label (case-insensitively) appears in
// labels. Configured label sets are already lowercased by
// config.splitCSV; the classifier's returned label is lowercased here to
// match.
func containsLabel(labels []string, label string) bool {
	label = strings.ToLower(label)
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
