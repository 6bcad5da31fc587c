package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"turtleworld.ai/internal/sim/world"
)

// DefaultSegmentSteps is how many consecutive steps share one log file.
const DefaultSegmentSteps = 10000

// SegmentWriter appends JSON lines to zstd files keyed by step. Step s goes
// to the segment starting at s rounded down to a multiple of span, so a
// restarted writer keeps appending to the same file.
type SegmentWriter struct {
	dir    string
	prefix string
	span   uint64

	mu    sync.Mutex
	open  bool
	start uint64
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
}

func NewSegmentWriter(dir, prefix string, span uint64) *SegmentWriter {
	if span == 0 {
		span = DefaultSegmentSteps
	}
	return &SegmentWriter{dir: dir, prefix: prefix, span: span}
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as the record of step and flushes it.
func (w *SegmentWriter) Write(step uint64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if start := step - step%w.span; !w.open || start != w.start {
		if err := w.openLocked(start); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush through the encoder so a crash loses at most the current line.
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *SegmentWriter) openLocked(start uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path(start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.start, w.open = start, true
	return nil
}

func (w *SegmentWriter) closeLocked() error {
	if !w.open {
		return nil
	}
	err := w.w.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f, w.enc, w.w = nil, nil, nil
	w.open = false
	return err
}

func (w *SegmentWriter) path(start uint64) string {
	return filepath.Join(w.dir, segmentName(w.prefix, start))
}

func segmentName(prefix string, start uint64) string {
	return fmt.Sprintf("%s-%012d.jsonl.zst", prefix, start)
}

// segmentStart parses the first step out of a segment file name.
func segmentStart(prefix, path string) (uint64, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".jsonl.zst")
	n, err := strconv.ParseUint(strings.TrimPrefix(name, prefix+"-"), 10, 64)
	return n, err == nil
}

// StepLogger writes one JSONL entry per completed step (compressed).
type StepLogger struct{ w *SegmentWriter }

func NewStepLogger(worldDir string) *StepLogger {
	return NewStepLoggerSegments(worldDir, DefaultSegmentSteps)
}

func NewStepLoggerSegments(worldDir string, segmentSteps uint64) *StepLogger {
	return &StepLogger{w: NewSegmentWriter(filepath.Join(worldDir, "steps"), "steps", segmentSteps)}
}

func (l *StepLogger) WriteStep(v world.StepLogEntry) error { return l.w.Write(v.Step, v) }
func (l *StepLogger) Close() error                         { return l.w.Close() }

// ReadSteps decodes every entry of one step log file, in order.
func ReadSteps(path string) ([]world.StepLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []world.StepLogEntry
	jd := json.NewDecoder(bufio.NewReaderSize(dec, 128*1024))
	for {
		var e world.StepLogEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", filepath.Base(path), len(out), err)
		}
		out = append(out, e)
	}
}

// StepFiles lists the step log segments under worldDir, oldest first.
func StepFiles(worldDir string) ([]string, error) {
	return StepFilesFrom(worldDir, 0)
}

// StepFilesFrom lists the segments that can hold step from or later: the
// segment containing from and every segment after it.
func StepFilesFrom(worldDir string, from uint64) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(worldDir, "steps", "steps-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	type seg struct {
		start uint64
		path  string
	}
	segs := make([]seg, 0, len(paths))
	for _, p := range paths {
		if start, ok := segmentStart("steps", p); ok {
			segs = append(segs, seg{start, p})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].start < segs[j].start })

	first := 0
	for i, s := range segs {
		if s.start <= from {
			first = i
		}
	}
	out := make([]string, 0, len(segs)-first)
	for _, s := range segs[first:] {
		out = append(out, s.path)
	}
	return out, nil
}
