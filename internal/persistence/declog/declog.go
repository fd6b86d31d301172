// Package declog archives the decision and event streams as
// hourly-rotated, zstd-compressed JSONL segments. The archives are the
// long-term record; the sqlite rows are the queryable window.
package declog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"civitas.ai/internal/sim"
)

// segmentWriter appends lines to the segment named by the current UTC
// hour, opening the next segment when the hour rolls over. Each
// finished segment's path is handed to onClose, which is how the
// off-box mirror learns about uploadable files.
type segmentWriter struct {
	dir    string
	prefix string

	mu      sync.Mutex
	stamp   string
	path    string
	file    *os.File
	zst     *zstd.Encoder
	buf     *bufio.Writer
	onClose func(path string)
}

func newSegmentWriter(dir, prefix string) *segmentWriter {
	return &segmentWriter{dir: dir, prefix: prefix}
}

func (w *segmentWriter) setOnClose(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

// appendLine writes one JSON document as one line. line must not
// contain a newline. Flushed per line so a crash loses at most the
// zstd frame in flight.
func (w *segmentWriter) appendLine(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := time.Now().UTC().Format("2006-01-02-15")
	if stamp != w.stamp {
		if err := w.openSegment(stamp); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *segmentWriter) openSegment(stamp string) error {
	if err := w.finishLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	p := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, stamp))
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.zst = f, zw
	w.buf = bufio.NewWriterSize(zw, 128*1024)
	w.stamp, w.path = stamp, p
	return nil
}

// finishLocked seals the open segment, fires onClose for it, and
// leaves the writer ready to open the next. Safe with nothing open.
func (w *segmentWriter) finishLocked() error {
	var zerr error
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if w.zst != nil {
		zerr = w.zst.Close()
	}
	if w.file != nil {
		_ = w.file.Close()
		if w.onClose != nil && w.path != "" {
			w.onClose(w.path)
		}
	}
	w.file, w.zst, w.buf = nil, nil, nil
	w.stamp, w.path = "", ""
	return zerr
}

func (w *segmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishLocked()
}

// decisionLine is the archived shape of a decision, matching the admin
// DTO field names so archive consumers and API consumers read the same
// keys.
type decisionLine struct {
	ID        string `json:"id"`
	Tick      uint64 `json:"tick"`
	AgentID   string `json:"agent_id"`
	Provider  string `json:"provider"`
	Phase     string `json:"phase"`
	Action    string `json:"action,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	At        string `json:"at"`
}

// DecisionLogger archives every agent decision, one line each.
type DecisionLogger struct{ w *segmentWriter }

func NewDecisionLogger(dataDir string) *DecisionLogger {
	return &DecisionLogger{w: newSegmentWriter(filepath.Join(dataDir, "decisions"), "decisions")}
}

func (l *DecisionLogger) WriteDecision(d sim.Decision) error {
	b, err := json.Marshal(decisionLine{
		ID:        d.ID,
		Tick:      d.Tick,
		AgentID:   d.AgentID,
		Provider:  d.Provider,
		Phase:     d.Phase,
		Action:    d.Action,
		Reasoning: d.Reasoning,
		OK:        d.OK,
		Error:     d.Error,
		LatencyMs: d.LatencyMs,
		At:        d.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return l.w.appendLine(b)
}

func (l *DecisionLogger) Close() error { return l.w.Close() }

// SetOnClose installs a hook receiving each rotated file's path.
func (l *DecisionLogger) SetOnClose(fn func(path string)) { l.w.setOnClose(fn) }

// EventLogger archives broadcast frames verbatim; a frame is already a
// single-line JSON envelope.
type EventLogger struct{ w *segmentWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: newSegmentWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) WriteFrame(frame []byte) error { return l.w.appendLine(frame) }

func (l *EventLogger) Close() error { return l.w.Close() }

func (l *EventLogger) SetOnClose(fn func(path string)) { l.w.setOnClose(fn) }
