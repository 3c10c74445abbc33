package storage_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"go.uber.org/zap"
)

type signalPayload struct {
	Kind       string  `json:"kind"`
	Conviction float64 `json:"conviction"`
}

func mustRecord(t *testing.T, kind storage.RecordKind, ref string) storage.Record {
	t.Helper()
	rec, err := storage.NewRecord(kind, "AAPL", ref, signalPayload{Kind: "cloud_cross_long", Conviction: 72.5})
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return rec
}

func TestSQLiteRecorder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit", "audit.db")
	r, err := storage.NewSQLiteRecorder(zap.NewNop(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	first := mustRecord(t, storage.KindSignal, "sig_1")
	for _, rec := range []storage.Record{first, mustRecord(t, storage.KindOrder, "ord_1"), mustRecord(t, storage.KindSignal, "sig_2")} {
		if err := r.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := r.Record(ctx, first); err == nil {
		t.Error("duplicate record id accepted")
	}

	n, err := r.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v", n, err)
	}

	signals, err := r.Recent(ctx, storage.KindSignal, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(signals) != 2 || signals[0].RefID != "sig_2" {
		t.Fatalf("recent signals = %+v", signals)
	}
	var p signalPayload
	if err := json.Unmarshal(signals[1].Payload, &p); err != nil || p.Conviction != 72.5 {
		t.Errorf("payload = %+v, %v", p, err)
	}

	all, _ := r.Recent(ctx, "", 10)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestJSONLRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := storage.Open(zap.NewNop(), storage.StorageConfig{Driver: "jsonl", Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, ref := range []string{"a", "b"} {
		if err := r.Record(context.Background(), mustRecord(t, storage.KindTrade, ref)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	r.Close()
	if err := r.Record(context.Background(), mustRecord(t, storage.KindTrade, "c")); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("record after close = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var refs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec storage.Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		refs = append(refs, rec.RefID)
	}
	if len(refs) != 2 || refs[0] != "a" || refs[1] != "b" {
		t.Errorf("refs = %v", refs)
	}
}

func TestMemoryRecorderFailure(t *testing.T) {
	m := storage.NewMemoryRecorder()
	boom := errors.New("disk full")
	m.Fail(boom)
	if err := m.Record(context.Background(), mustRecord(t, storage.KindSignal, "x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	m.Fail(nil)
	m.Record(context.Background(), mustRecord(t, storage.KindSignal, "x"))
	m.Record(context.Background(), mustRecord(t, storage.KindPosition, "p"))
	if len(m.Records(storage.KindSignal)) != 1 || len(m.Records("")) != 2 {
		t.Errorf("records = %+v", m.Records(""))
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := storage.Open(zap.NewNop(), storage.StorageConfig{Driver: "postgres"}); err == nil {
		t.Error("unknown driver accepted")
	}
}
