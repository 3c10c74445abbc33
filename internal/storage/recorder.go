// Package storage holds the append-only audit recorders the pipeline writes
// signals, orders and positions to. Nothing in the pipeline reads them back.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("recorder closed")

// RecordKind names what a record describes.
type RecordKind string

const (
	KindSignal    RecordKind = "signal"
	KindRejection RecordKind = "rejection"
	KindOrder     RecordKind = "order"
	KindTrade     RecordKind = "trade"
	KindPosition  RecordKind = "position"
)

// Record is one audit entry.
type Record struct {
	ID        string          `json:"id"`
	Kind      RecordKind      `json:"kind"`
	Symbol    string          `json:"symbol"`
	RefID     string          `json:"refId"` // signal, order or position ID
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRecord marshals payload into a record with a generated ID.
func NewRecord(kind RecordKind, symbol, refID string, payload any) (Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Record{
		ID:        utils.GenerateID("rec"),
		Kind:      kind,
		Symbol:    symbol,
		RefID:     refID,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// Recorder appends audit records.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

// StorageConfig selects and configures the recorder.
type StorageConfig struct {
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"` // sqlite, jsonl, memory
	Path   string `json:"path" mapstructure:"path" yaml:"path"`
}

// DefaultStorageConfig returns a sqlite file under data/.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{Driver: "sqlite", Path: "data/audit.db"}
}

// Open builds the recorder named by cfg.Driver.
func Open(logger *zap.Logger, cfg StorageConfig) (Recorder, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLiteRecorder(logger, cfg.Path)
	case "jsonl":
		return NewJSONLRecorder(logger, cfg.Path)
	case "memory":
		return NewMemoryRecorder(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// MemoryRecorder keeps records in memory. Fail makes subsequent writes
// return err.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	fail    error
	closed  bool
}

// NewMemoryRecorder creates an in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.fail != nil {
		return m.fail
	}
	m.records = append(m.records, rec)
	return nil
}

// Fail injects a write error; nil clears it.
func (m *MemoryRecorder) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Records returns a copy of the records, optionally filtered by kind.
func (m *MemoryRecorder) Records(kind RecordKind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (m *MemoryRecorder) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
