package trace

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // -1 if no break
	LastHash   string
	Error      string
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks hash chain integrity.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	expectedPrevHash := Genesis
	count := 0
	broken := func(msg string) *VerifyResult {
		return &VerifyResult{EventCount: count, Valid: false, BrokenAt: count, Error: msg}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return broken(fmt.Sprintf("record %d: invalid JSON: %v", count, err)), nil
		}
		if rec.PrevHash != expectedPrevHash {
			return broken(fmt.Sprintf("record %d: prev_hash mismatch (expected %s, got %s)", count, short(expectedPrevHash), short(rec.PrevHash))), nil
		}
		if rec.Seq != int64(count) {
			return broken(fmt.Sprintf("record %d: seq %d out of order", count, rec.Seq)), nil
		}

		h := sha256.Sum256(line)
		expectedPrevHash = hex.EncodeToString(h[:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	return &VerifyResult{
		EventCount: count,
		Valid:      true,
		BrokenAt:   -1,
		LastHash:   expectedPrevHash,
	}, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
