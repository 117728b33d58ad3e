package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nuvion/edge-agent/pkg/agent"
	"github.com/nuvion/edge-agent/pkg/config"
	"github.com/nuvion/edge-agent/pkg/inference"
	"github.com/nuvion/edge-agent/pkg/media"
)

const classifierTimeout = 10 * time.Second

func main() {
	fs := flag.NewFlagSet("edge-agent", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log output format: text, json")
	logFile := fs.String("log-file", "", "log output file path (default: stdout)")
	envPath := fs.String("env", ".env", "path to the env-style configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "On-device capture, RTP egress, and anomaly-detection agent\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(*logLevel, *logFormat, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(log)

	log.Info("starting edge agent", "log_level", *logLevel, "log_format", *logFormat)

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "server_base_url", cfg.ServerBaseURL, "zsad_backend", cfg.ZSADBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	classifier := buildClassifier(cfg, log.With("component", "classifier"))
	if classifier == nil && cfg.ZSADBackend != "none" {
		log.Warn("zsad_backend configured but zsad_classifier_url is empty; anomaly detection disabled", "zsad_backend", cfg.ZSADBackend)
	}

	// The camera-capture device and the H.264 encoder are external
	// collaborators outside this module's scope (spec §1 Non-goals); a nil
	// VideoSource/Encoder leaves the frame-tap and encode branches idle
	// while the rest of the agent (signaling, RTP sink configuration,
	// inference dispatch) still runs.
	var videoSource media.VideoSource
	var encoder media.Encoder

	a, err := agent.New(cfg, videoSource, encoder, classifier, log)
	if err != nil {
		log.Error("failed to construct agent", "error", err)
		os.Exit(1)
	}

	a.Start(ctx)
	log.Info("agent running - press Ctrl+C to stop")

	<-ctx.Done()
	log.Info("shutting down")
	a.Stop()
	log.Info("graceful shutdown complete")
}

// buildClassifier returns the configured zero-shot classification
// collaborator, or nil when the backend is disabled or no endpoint is set.
func buildClassifier(cfg *config.Config, log *slog.Logger) inference.Classifier {
	if cfg.ZSADBackend == "none" || cfg.ZSADClassifierURL == "" {
		return nil
	}
	return inference.NewRemoteClassifier(cfg.ZSADClassifierURL, classifierTimeout, log)
}

// newLogger builds the process-wide slog.Logger from the level/format/file
// flags. The returned closer flushes and closes the log file, if one was
// opened; it is a no-op when logging to stdout.
func newLogger(level, format, file string) (*slog.Logger, func(), error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}

	var writer io.Writer = os.Stdout
	closer := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", file, err)
		}
		writer = f
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		closer()
		return nil, nil, fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}

	return slog.New(handler), closer, nil
}
