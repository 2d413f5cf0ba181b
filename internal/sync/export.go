package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ExportClient is a RemoteClient that appends pushed operations to a JSONL
// file instead of a network endpoint. It exists for offline hand-off: drain
// the queue to a file, carry the file to wherever the real authority lives.
//
// Like a proper remote, it dedupes by queue entry id: replaying the same
// queue entry twice leaves one line, not two. Distinct operations on the
// same record carry distinct entry ids and are all recorded.
type ExportClient struct {
	path string
	seen map[string]bool
}

type exportLine struct {
	OpID       string          `json:"op_id,omitempty"`
	RecordID   string          `json:"record_id"`
	RecordType string          `json:"record_type"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
}

// NewExportClient opens (or creates) the JSONL file at path and indexes the
// operations already recorded in it.
func NewExportClient(path string) (*ExportClient, error) {
	c := &ExportClient{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line exportLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.OpID != "" {
			c.seen[line.OpID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan export file: %w", err)
	}
	return c, nil
}

// Push implements RemoteClient. The export target has no competing versions,
// so it never reports a conflict.
func (c *ExportClient) Push(ctx context.Context, op Operation) (PushResult, error) {
	if op.OpID != "" && c.seen[op.OpID] {
		return PushResult{Status: PushOK}, nil
	}

	line, err := json.Marshal(exportLine{
		OpID:       op.OpID,
		RecordID:   op.RecordID,
		RecordType: string(op.RecordType),
		Action:     string(op.Action),
		Payload:    op.Payload,
		ExportedAt: time.Now().UTC(),
	})
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to marshal export line: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return PushResult{}, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return PushResult{}, fmt.Errorf("failed to append export line: %w", err)
	}

	if op.OpID != "" {
		c.seen[op.OpID] = true
	}
	return PushResult{Status: PushOK}, nil
}

// Pull implements RemoteClient. An export file is write-only from the local
// side; there is never anything to pull.
func (c *ExportClient) Pull(ctx context.Context, since time.Time) ([]RemoteRecord, error) {
	return nil, nil
}
