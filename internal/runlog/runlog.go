// Package runlog records episodes as compressed JSONL: one file per
// episode, one entry per turn, capability call, or reset marker. Files
// are append-only and readable while the recorder is live only up to
// the last flushed frame.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Entry kinds.
const (
	KindTurn       = "turn"
	KindCapability = "capability"
	KindReset      = "reset"
)

// Entry is one recorded event. Exactly one of the kind payloads is set.
type Entry struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Episode int       `json:"episode"`
	Session string    `json:"session,omitempty"`
	Actor   string    `json:"actor,omitempty"`

	Turn       *TurnEntry       `json:"turn,omitempty"`
	Capability *CapabilityEntry `json:"capability,omitempty"`
	Reset      *ResetEntry      `json:"reset,omitempty"`
}

// TurnEntry records one program execution.
type TurnEntry struct {
	Program     string `json:"program"`
	StdoutBytes int    `json:"stdout_bytes"`
	StderrBytes int    `json:"stderr_bytes"`
	ErrorPhase  string `json:"error_phase,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// CapabilityEntry records one bridge call.
type CapabilityEntry struct {
	Capability string `json:"capability"`
	OK         bool   `json:"ok"`
	Code       string `json:"code,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ResetEntry marks an episode boundary. It is the first entry of the
// new episode's file.
type ResetEntry struct {
	ClearEntities bool `json:"clear_entities,omitempty"`
	ResearchAll   bool `json:"research_all,omitempty"`
}

// Recorder appends entries to the current episode file. Safe for
// concurrent use.
type Recorder struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	episode int
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewRecorder(dir, prefix string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{dir: dir, prefix: prefix, logger: logger}
}

// Episode returns the current episode number. Zero until the first
// entry opens episode one.
func (r *Recorder) Episode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.episode
}

// Turn records one program execution for a session.
func (r *Recorder) Turn(session, actor string, t TurnEntry) error {
	return r.write(Entry{Kind: KindTurn, Session: session, Actor: actor, Turn: &t})
}

// Capability records one bridge call.
func (r *Recorder) Capability(actor string, c CapabilityEntry) error {
	return r.write(Entry{Kind: KindCapability, Actor: actor, Capability: &c})
}

// NextEpisode closes the current episode file and starts the next one
// with a reset marker as its first entry.
func (r *Recorder) NextEpisode(reset ResetEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rotateLocked(r.episode + 1); err != nil {
		return err
	}
	return r.writeLocked(Entry{Kind: KindReset, Reset: &reset})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) write(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		if err := r.rotateLocked(r.episode + 1); err != nil {
			return err
		}
	}
	return r.writeLocked(e)
}

func (r *Recorder) writeLocked(e Entry) error {
	e.Time = time.Now().UTC()
	e.Episode = r.episode

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := r.w.Write(b); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *Recorder) rotateLocked(episode int) error {
	if err := r.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	path := r.pathForEpisode(episode)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f = f
	r.enc = enc
	r.w = bufio.NewWriterSize(enc, 128*1024)
	r.episode = episode
	r.logger.Info("Run log episode opened", "episode", episode, "path", path)
	return nil
}

func (r *Recorder) closeLocked() error {
	var err error
	if r.w != nil {
		_ = r.w.Flush()
	}
	if r.enc != nil {
		err = r.enc.Close()
		r.enc = nil
	}
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	r.w = nil
	return err
}

func (r *Recorder) pathForEpisode(episode int) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s-%06d.jsonl.zst", r.prefix, episode))
}

// ReadFile decodes one episode file back into entries.
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

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Episodes lists a directory's episode files in order.
func Episodes(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
