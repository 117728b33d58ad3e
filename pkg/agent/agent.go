// Package agent wires every component into the single explicitly
// constructed value the design notes call for (spec §9): no module-level
// globals, no implicit event-loop reference — every shared resource is an
// owned field, and the cyclic G<->H and D<->E references are resolved
// through the narrow interfaces each package defines for the other.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nuvion/edge-agent/pkg/auditlog"
	"github.com/nuvion/edge-agent/pkg/authtoken"
	"github.com/nuvion/edge-agent/pkg/clip"
	"github.com/nuvion/edge-agent/pkg/config"
	"github.com/nuvion/edge-agent/pkg/httpapi"
	"github.com/nuvion/edge-agent/pkg/inference"
	"github.com/nuvion/edge-agent/pkg/media"
	"github.com/nuvion/edge-agent/pkg/overlay"
	"github.com/nuvion/edge-agent/pkg/signaling"
)

const statsInterval = 30 * time.Second

// Agent is the single explicitly-constructed top-level value. It owns the
// outbound queue (inside signaling.Client), the token holder, the pipeline
// handle, and every background goroutine; context cancellation is the
// "running=false" flag from spec §5.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	tokens    *authtoken.Holder
	http      *httpapi.Client
	signaling *signaling.Client
	pipeline  *media.Pipeline
	dispatch  *inference.Dispatcher
	clips     *clip.Subsystem
	overlayer *overlay.Updater
	audit     *auditlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component and wires the cross-component handlers.
// source and encoder may be nil (the camera-capture device and the H.264
// encoder are external collaborators per spec §1 Non-goals); a nil source
// or encoder simply leaves the frame tap / RTP-and-clip branches idle.
func New(cfg *config.Config, source media.VideoSource, encoder media.Encoder, classifier inference.Classifier, logger *slog.Logger) (*Agent, error) {
	a := &Agent{cfg: cfg, logger: logger}

	a.tokens = authtoken.New(cfg.ServerBaseURL, cfg.DeviceUsername, cfg.DevicePassword, logger.With("component", "authtoken"))
	a.http = httpapi.New(cfg.ServerBaseURL, a.tokens, logger.With("component", "httpapi"))

	serverHost := parseHostOnly(cfg.ServerBaseURL)
	wsBaseURL := toWebSocketURL(cfg.ServerBaseURL)
	a.signaling = signaling.New(wsBaseURL, cfg.DeviceUsername, a.tokens, cfg.OutboundQueueMax, cfg.RTPRemoteIPOverride, logger.With("component", "signaling"))

	audit, err := auditlog.New(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("construct audit log: %w", err)
	}
	a.audit = audit

	a.clips = clip.New(clip.Config{
		Enabled:           cfg.ClipEnabled,
		PreSec:            cfg.ClipPreSec,
		PostSec:           cfg.ClipPostSec,
		SegmentSec:        cfg.ClipSegmentSec,
		MaxSegments:       cfg.ClipMaxSegments,
		CooldownSec:       cfg.ClipCooldownSec,
		SegmentsDir:       filepath.Join(cfg.ClipOutputDir, "segments"),
		ClipsDir:          filepath.Join(cfg.ClipOutputDir, "clips"),
		ContentType:       cfg.ClipContentType,
		ServerHost:        serverHost,
		MuxerPathOverride: cfg.FFmpegPathOverride,
	}, a.http, a.tokens, logger.With("component", "clip"))

	a.overlayer = overlay.New(func(text string) {
		logger.With("component", "overlay").Debug("overlay text applied", "text", text)
	}, logger.With("component", "overlay"))

	a.dispatch = inference.New(inference.Config{
		Backend:                       cfg.ZSADBackend,
		ZeroShotSampleIntervalSec:     cfg.ZeroShotSampleIntervalSec,
		AnomalyMinIntervalSec:         cfg.AnomalyMinIntervalSec,
		ProductionDedupSec:            cfg.ProductionDedupSec,
		AnomalyLabels:                 cfg.AnomalyLabels,
		AnomalyThreshold:              cfg.AnomalyThreshold,
		TritonThreshold:               cfg.TritonThreshold,
		ProductionLabels:              cfg.ProductionLabels,
		ProductionConfidenceThreshold: cfg.ProductionConfidenceThreshold,
		LineID:                        cfg.LineID,
		ProcessID:                     cfg.ProcessID,
	}, classifier, a.signaling, a.clips, a.audit, a.overlayer, logger.With("component", "inference"))

	pipeline, err := media.New(media.Config{
		SSRC:            cfg.RTPSSRC,
		ClipEnabled:     cfg.ClipEnabled,
		ClipSegmentDir:  filepath.Join(cfg.ClipOutputDir, "segments"),
		ClipSegmentSec:  cfg.ClipSegmentSec,
		ClipMaxSegments: cfg.ClipMaxSegments,
	}, source, encoder, a.dispatch, logger.With("component", "media"))
	if err != nil {
		// Pipeline construction error is the one fatal case in the error
		// table (spec §7) — propagated to the caller to abort the process.
		return nil, fmt.Errorf("construct media pipeline: %w", err)
	}
	a.pipeline = pipeline

	a.signaling.OnEndpointReady(a.handleEndpointReady)

	return a, nil
}

// handleEndpointReady is the bridge between component D and component E
// described in spec §4.D: reconfigure the RTP sink, then announce the
// chosen RTP parameters over /app/broadcast/start.
func (a *Agent) handleEndpointReady(ready signaling.EndpointReady) {
	if err := a.pipeline.ConfigureRTPSink(ready.IP, ready.Port, ready.PayloadType); err != nil {
		a.logger.Error("failed to configure rtp sink", "error", err)
		return
	}

	payload := broadcastStartPayload(ready, a.cfg)
	if !a.signaling.Enqueue("/app/broadcast/start", payload) {
		a.logger.Warn("failed to enqueue broadcast/start notification")
	}
}

// Start launches every background component and returns immediately; it
// does not block. Call Stop, or cancel ctx, to stop.
func (a *Agent) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.overlayer.Set(overlay.DefaultText(a.cfg.ZSADBackend))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.overlayer.Run(a.ctx)
	}()

	a.pipeline.Start(a.ctx)
	a.dispatch.Start(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.signaling.Run(a.ctx); err != nil && a.ctx.Err() == nil {
			a.logger.Error("signaling client exited", "error", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.statsLoop()
	}()
}

func (a *Agent) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			sent, dropped := a.pipeline.PacerStats()
			host, port, pt, configured := a.pipeline.RTPSinkEndpoint()
			a.logger.Info("agent statistics",
				"rtp_configured", configured,
				"rtp_host", host,
				"rtp_port", port,
				"rtp_pt", pt,
				"rtp_sent", sent,
				"rtp_dropped", dropped,
				"overlay", a.overlayer.Current())
		}
	}
}

// Stop cancels every background component, stops the pipeline (equivalent
// to triggering EOS and quitting the main loop), and waits for in-flight
// clip uploads to finish rather than forcing their cancellation (spec §5).
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.dispatch.Stop()
	a.pipeline.Close()
	a.wg.Wait()
	a.clips.Wait()
}
