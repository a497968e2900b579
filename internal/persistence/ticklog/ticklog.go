// Package ticklog writes periodic influence snapshots as zstd-compressed JSON
// lines, one file per UTC hour, and reads them back for replay.
package ticklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/swarm-director/internal/focus"
)

const prefix = "ticks"

// TargetInfluence is one target's share at the time of the snapshot.
type TargetInfluence struct {
	ID        focus.TargetID `json:"id"`
	Influence float64        `json:"influence"`
}

// Entry is one snapshot line.
type Entry struct {
	Tick       uint64            `json:"tick"`
	Wave       uint32            `json:"wave"`
	Population int               `json:"population"`
	Remaining  int64             `json:"remaining"`
	Targets    []TargetInfluence `json:"targets"`
}

// FromTargets converts registry records into snapshot form.
func FromTargets(ts []focus.Target) []TargetInfluence {
	out := make([]TargetInfluence, 0, len(ts))
	for _, t := range ts {
		out = append(out, TargetInfluence{ID: t.ID, Influence: t.Influence})
	}
	return out
}

// Writer appends entries to <dir>/ticks-YYYY-MM-DD-HH.jsonl.zst.
type Writer struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewWriter creates a writer rooted at dir. Files are created lazily.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Write appends one entry, rotating to a new file when the hour changes.
func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the current compressed frame.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

// Close finishes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", prefix, hour))
}

// Files lists the tick log files in dir, oldest first.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile decodes every entry in a tick log file.
func ReadFile(path string) ([]Entry, error) {
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

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var out []Entry
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Summary aggregates a run of entries.
type Summary struct {
	Entries        int                        `json:"entries"`
	FirstTick      uint64                     `json:"first_tick"`
	LastTick       uint64                     `json:"last_tick"`
	MaxWave        uint32                     `json:"max_wave"`
	PeakPopulation int                        `json:"peak_population"`
	MeanInfluence  map[focus.TargetID]float64 `json:"mean_influence"`
	Depleted       map[focus.TargetID]int     `json:"depleted"` // snapshots at zero influence
}

// Summarize folds entries into a Summary.
func Summarize(entries []Entry) Summary {
	s := Summary{
		MeanInfluence: make(map[focus.TargetID]float64),
		Depleted:      make(map[focus.TargetID]int),
	}
	seen := make(map[focus.TargetID]int)
	for i, e := range entries {
		if i == 0 {
			s.FirstTick = e.Tick
		}
		s.Entries++
		s.LastTick = e.Tick
		if e.Wave > s.MaxWave {
			s.MaxWave = e.Wave
		}
		if e.Population > s.PeakPopulation {
			s.PeakPopulation = e.Population
		}
		for _, t := range e.Targets {
			seen[t.ID]++
			s.MeanInfluence[t.ID] += t.Influence
			if t.Influence <= 0 {
				s.Depleted[t.ID]++
			}
		}
	}
	for id, n := range seen {
		s.MeanInfluence[id] /= float64(n)
	}
	return s
}
