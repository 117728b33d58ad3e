package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// segmentWriter is the clip_sink branch of the graph: it mirrors
// splitmuxsink's behavior of writing the encoded access-unit stream into a
// ring of fixed-duration files, cutting a new file only on a keyframe
// boundary once the configured duration has elapsed, and deleting the
// oldest file once the ring exceeds maxFiles.
type segmentWriter struct {
	logger *slog.Logger

	dir         string
	maxDuration time.Duration
	maxFiles    int

	mu           sync.Mutex
	file         *os.File
	segmentStart time.Time
	nextSeq      int
}

func newSegmentWriter(logger *slog.Logger, dir string, maxDuration time.Duration, maxFiles int) (*segmentWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}
	return &segmentWriter{
		logger:      logger,
		dir:         dir,
		maxDuration: maxDuration,
		maxFiles:    maxFiles,
	}, nil
}

// write appends one access unit's NAL units, Annex-B start-code delimited,
// to the current segment file, rotating to a new file first if the current
// segment has run its duration and this access unit starts a new GOP.
func (w *segmentWriter) write(au AccessUnit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.openNext(); err != nil {
			return err
		}
	} else if time.Since(w.segmentStart) >= w.maxDuration && containsKeyframe(au) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	for _, nalu := range au.NALUs {
		if _, err := w.file.Write([]byte{0, 0, 0, 1}); err != nil {
			return fmt.Errorf("write start code: %w", err)
		}
		if _, err := w.file.Write(nalu); err != nil {
			return fmt.Errorf("write nalu: %w", err)
		}
	}
	return nil
}

func (w *segmentWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		w.logger.Warn("failed to close segment file", "error", err)
	}
	w.file = nil
	return w.openNext()
}

func (w *segmentWriter) openNext() error {
	name := fmt.Sprintf("segment_%05d.mp4", w.nextSeq)
	w.nextSeq++
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	w.file = f
	w.segmentStart = time.Now()
	w.enforceRing()
	return nil
}

// enforceRing deletes the oldest segment files once the directory holds
// more than maxFiles, matching splitmuxsink's max-files property.
func (w *segmentWriter) enforceRing() {
	if w.maxFiles <= 0 {
		return
	}
	entries, err := filepath.Glob(filepath.Join(w.dir, "segment_*.mp4"))
	if err != nil {
		return
	}
	if len(entries) <= w.maxFiles {
		return
	}
	sort.Strings(entries)
	for _, stale := range entries[:len(entries)-w.maxFiles] {
		if err := os.Remove(stale); err != nil {
			w.logger.Warn("failed to remove stale segment", "path", stale, "error", err)
		}
	}
}

func (w *segmentWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
