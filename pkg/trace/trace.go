// Package trace implements the append-only JSONL audit trail of bus events.
// Every record carries the sha256 of the previous line, so truncation or
// tampering is detectable with Verify.
package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/report"
)

// Genesis is the prev_hash of the first record.
var Genesis = strings.Repeat("0", 64)

// Record is a single trace line.
type Record struct {
	Seq         int64         `json:"seq"`
	EventID     string        `json:"event_id"`
	ExecutionID int64         `json:"execution_id"`
	Kind        bus.Kind      `json:"kind"`
	Path        string        `json:"path,omitempty"`
	Step        string        `json:"step,omitempty"`
	Status      report.Status `json:"status,omitempty"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	PrevHash    string        `json:"prev_hash"`
}

// Writer appends records to a JSONL stream.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	seq      int64
	prevHash string
}

// NewWriter creates a writer starting a fresh chain on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, prevHash: Genesis}
}

// NewFileWriter appends to a JSONL file, continuing the chain already in it.
func NewFileWriter(path string) (*Writer, error) {
	tw := &Writer{prevHash: Genesis}
	if f, err := os.Open(path); err == nil {
		res, err := Verify(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read trace file: %w", err)
		}
		if !res.Valid {
			return nil, fmt.Errorf("trace file %s is corrupt: %s", path, res.Error)
		}
		tw.seq = int64(res.EventCount)
		tw.prevHash = res.LastHash
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw.w, tw.closer = f, f
	return tw, nil
}

// Write appends one bus event.
func (tw *Writer) Write(ev bus.Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.seq++
	rec := Record{
		Seq:         tw.seq,
		EventID:     ev.ID,
		ExecutionID: ev.ExecutionID,
		Kind:        ev.Kind,
		Path:        ev.Path,
		Timestamp:   ev.Timestamp.UTC(),
		PrevHash:    tw.prevHash,
	}
	if r := ev.Report; r != nil {
		rec.Step = r.Name
		rec.Status = r.Status
		rec.Errors = r.Errors
		if r.Duration > 0 {
			rec.Duration = r.Duration.String()
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trace record: %w", err)
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])
	return nil
}

// Attach writes every event published on b.
func (tw *Writer) Attach(b *bus.Bus) *bus.Subscription {
	return b.SubscribeFunc("trace", nil, tw.Write)
}

// Close closes the underlying file, if the writer owns one.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closer == nil {
		return nil
	}
	err := tw.closer.Close()
	tw.closer = nil
	return err
}

// Read decodes every record of a trace stream.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return out, fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read trace: %w", err)
	}
	return out, nil
}
