// Package journal records CLI operations as JSON lines in an append blob.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// Event is one journal line.
type Event struct {
	ID        string    `json:"id" yaml:"id"`
	Time      time.Time `json:"time" yaml:"time"`
	Op        string    `json:"op" yaml:"op"`
	Container string    `json:"container,omitempty" yaml:"container,omitempty"`
	Blob      string    `json:"blob,omitempty" yaml:"blob,omitempty"`
	Bytes     uint64    `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Journal appends events to a single append blob in the store's log container.
type Journal struct {
	store *storage.Store
	blob  string
	now   func() time.Time
}

// New returns a journal writing to blob.
func New(store *storage.Store, blob string) *Journal {
	return &Journal{store: store, blob: blob, now: time.Now}
}

// Blob returns the append blob name.
func (j *Journal) Blob() string { return j.blob }

// Record appends e. Missing ID and Time are filled in.
func (j *Journal) Record(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = j.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("failed to encode journal event: %w", err)
	}
	if _, err := j.store.AppendEntry(ctx, j.blob, append(data, '\n')); err != nil {
		return e, err
	}
	return e, nil
}

// RecordResult records op with the outcome of err.
func (j *Journal) RecordResult(ctx context.Context, op, container, blob string, n uint64, opErr error) error {
	e := Event{Op: op, Container: container, Blob: blob, Bytes: n}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	_, err := j.Record(ctx, e)
	return err
}

// Tail returns the last n events, oldest first. A journal that does not exist yet is empty.
// Lines that do not decode are skipped. n <= 0 returns every event.
func (j *Journal) Tail(ctx context.Context, n int) ([]Event, error) {
	var buf bytes.Buffer
	_, err := j.store.DownloadBlob(ctx, j.store.LogContainer(), j.blob, storage.NewBufferSink(&buf))
	if errors.Is(err, storage.ErrNotFound) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, err
	}

	events := []Event{}
	scanner := bufio.NewScanner(&buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	if n > 0 && len(events) > n {
		return events[len(events)-n:], nil
	}
	return events, nil
}
