// Package audit keeps a write-once archive of every payment callback the store
// receives, so disputed payments can be traced back to the raw notification.
package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Record is one archived callback.
type Record struct {
	ReceivedAt time.Time         `json:"receivedAt"`
	RequestID  string            `json:"requestId,omitempty"`
	Topic      string            `json:"topic"`
	DataID     string            `json:"dataId"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Outcome    string            `json:"outcome"`
	Error      string            `json:"error,omitempty"`
}

// Key is the archive-relative name of a record, partitioned by day.
func (r *Record) Key() string {
	id := r.DataID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s/%d-%s.json.gz",
		r.ReceivedAt.UTC().Format("2006/01/02"), r.ReceivedAt.UnixNano(), id)
}

// Archive stores callback records.
type Archive interface {
	Store(ctx context.Context, rec *Record) error
}

// encode serialises a record as gzipped JSON.
func encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(rec); err != nil {
		return nil, fmt.Errorf("failed to encode callback record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress callback record: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a record written by an Archive.
func Decode(r io.Reader) (*Record, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()

	var rec Record
	if err := json.NewDecoder(zr).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode callback record: %w", err)
	}
	return &rec, nil
}
