package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"gatewatch/internal/coordinator"
	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/sqlcgen"
)

type fakeQueries struct {
	upsertFn func(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error
	listFn   func(ctx context.Context) ([]sqlcgen.GatewayDevice, error)
	deleteFn func(ctx context.Context, ids []string) (int64, error)
	insertFn func(ctx context.Context, arg sqlcgen.InsertRefreshCycleParams) error
	cyclesFn func(ctx context.Context, limit int32) ([]sqlcgen.RefreshCycle, error)
}

func (f *fakeQueries) UpsertGatewayDevice(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error {
	if f.upsertFn == nil {
		return nil
	}
	return f.upsertFn(ctx, arg)
}

func (f *fakeQueries) ListGatewayDevices(ctx context.Context) ([]sqlcgen.GatewayDevice, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f *fakeQueries) DeleteGatewayDevices(ctx context.Context, ids []string) (int64, error) {
	if f.deleteFn == nil {
		return 0, nil
	}
	return f.deleteFn(ctx, ids)
}

func (f *fakeQueries) InsertRefreshCycle(ctx context.Context, arg sqlcgen.InsertRefreshCycleParams) error {
	if f.insertFn == nil {
		return nil
	}
	return f.insertFn(ctx, arg)
}

func (f *fakeQueries) ListRefreshCycles(ctx context.Context, limit int32) ([]sqlcgen.RefreshCycle, error) {
	if f.cyclesFn == nil {
		return nil, nil
	}
	return f.cyclesFn(ctx, limit)
}

func strPtr(s string) *string { return &s }

func TestStore_LoadMapsRows(t *testing.T) {
	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := &fakeQueries{
		listFn: func(ctx context.Context) ([]sqlcgen.GatewayDevice, error) {
			return []sqlcgen.GatewayDevice{
				{ID: "aa:01", MACAddress: strPtr("aa:01"), HostName: strPtr("nas"), Active: true, LastSeen: &seen},
				{ID: "aa:02"},
			}, nil
		},
	}
	reg, err := NewStore(zerolog.Nop(), q).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reg) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(reg))
	}
	if d := reg["aa:01"]; d.HostName != "nas" || d.MACAddress != "aa:01" || !d.LastSeen.Equal(seen) || !d.Active {
		t.Fatalf("unexpected device: %+v", d)
	}
	if d := reg["aa:02"]; d.HostName != "" || !d.LastSeen.IsZero() {
		t.Fatalf("expected NULL columns to map to zero values, got %+v", d)
	}
}

func TestStore_SaveUpsertsInIDOrder(t *testing.T) {
	var ids []string
	var second sqlcgen.UpsertGatewayDeviceParams
	q := &fakeQueries{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error {
			ids = append(ids, arg.ID)
			if arg.ID == "b" {
				second = arg
			}
			return nil
		},
	}
	reg := inventory.Registry{
		"b": {ID: "b", IPAddress: "10.0.0.2", Active: true},
		"a": {ID: "a"},
	}
	if err := NewStore(zerolog.Nop(), q).Save(context.Background(), reg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("expected sorted upserts, got %v", ids)
	}
	if second.IPAddress == nil || *second.IPAddress != "10.0.0.2" || second.Name != nil || second.LastSeen != nil || !second.Active {
		t.Fatalf("unexpected params: %+v", second)
	}
}

func TestStore_SaveStopsOnError(t *testing.T) {
	calls := 0
	q := &fakeQueries{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error {
			calls++
			return errors.New("db down")
		},
	}
	err := NewStore(zerolog.Nop(), q).Save(context.Background(), inventory.Registry{"a": {ID: "a"}, "b": {ID: "b"}})
	if err == nil || calls != 1 {
		t.Fatalf("expected first failure to abort, err=%v calls=%d", err, calls)
	}
}

// fakeTx buffers upserts and only exposes them once committed.
type fakeTx struct {
	pgx.Tx

	pending    []string
	committed  *[]string
	commits    int
	rollbacks  int
	commitErr  error
	failUpsert string
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.commits++
	*tx.committed = append(*tx.committed, tx.pending...)
	tx.pending = nil
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.commits > 0 {
		return pgx.ErrTxClosed
	}
	tx.rollbacks++
	tx.pending = nil
	return nil
}

func newTxStore(tx *fakeTx) *Store {
	s := NewStore(zerolog.Nop(), &fakeQueries{})
	s.begin = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }
	s.bind = func(pgx.Tx) Queries {
		return &fakeQueries{
			upsertFn: func(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error {
				if arg.ID == tx.failUpsert {
					return errors.New("constraint violation")
				}
				tx.pending = append(tx.pending, arg.ID)
				return nil
			},
			insertFn: func(ctx context.Context, arg sqlcgen.InsertRefreshCycleParams) error {
				tx.pending = append(tx.pending, "cycle:"+arg.Outcome)
				return nil
			},
			deleteFn: func(ctx context.Context, ids []string) (int64, error) {
				return 0, errors.New("delete failed")
			},
		}
	}
	return s
}

func TestStore_SaveCommitsAllRowsTogether(t *testing.T) {
	var committed []string
	tx := &fakeTx{committed: &committed}
	reg := inventory.Registry{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}

	if err := newTxStore(tx).Save(context.Background(), reg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Join(committed, ",") != "a,b,c" || tx.commits != 1 || tx.rollbacks != 0 {
		t.Fatalf("unexpected tx state committed=%v commits=%d rollbacks=%d", committed, tx.commits, tx.rollbacks)
	}
}

func TestStore_SaveFailureCommitsNothing(t *testing.T) {
	var committed []string
	tx := &fakeTx{committed: &committed, failUpsert: "b"}
	reg := inventory.Registry{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}

	err := newTxStore(tx).Save(context.Background(), reg)
	if err == nil || !strings.Contains(err.Error(), "upsert gateway device b") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	if len(committed) != 0 || tx.commits != 0 || tx.rollbacks != 1 {
		t.Fatalf("expected rollback only, committed=%v commits=%d rollbacks=%d", committed, tx.commits, tx.rollbacks)
	}
}

func TestStore_SaveCommitError(t *testing.T) {
	var committed []string
	tx := &fakeTx{committed: &committed, commitErr: errors.New("connection reset")}

	err := newTxStore(tx).Save(context.Background(), inventory.Registry{"a": {ID: "a"}})
	if err == nil || !strings.Contains(err.Error(), "commit transaction") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(committed) != 0 || tx.rollbacks != 1 {
		t.Fatalf("expected rollback after failed commit, committed=%v rollbacks=%d", committed, tx.rollbacks)
	}
}

func TestStore_RecordCycleRollsBackJournalWhenPruneFails(t *testing.T) {
	var committed []string
	tx := &fakeTx{committed: &committed}

	err := newTxStore(tx).RecordCycle(context.Background(), coordinator.Result{Pruned: []string{"old"}})
	if err == nil || !strings.Contains(err.Error(), "delete pruned devices") {
		t.Fatalf("expected delete error, got %v", err)
	}
	if len(committed) != 0 || tx.rollbacks != 1 {
		t.Fatalf("expected journal row rolled back, committed=%v", committed)
	}
}

func TestStore_RecordCycle(t *testing.T) {
	var inserted []sqlcgen.InsertRefreshCycleParams
	var deleted []string
	q := &fakeQueries{
		insertFn: func(ctx context.Context, arg sqlcgen.InsertRefreshCycleParams) error {
			inserted = append(inserted, arg)
			return nil
		},
		deleteFn: func(ctx context.Context, ids []string) (int64, error) {
			deleted = append(deleted, ids...)
			return int64(len(ids)), nil
		},
	}
	s := NewStore(zerolog.Nop(), q)

	ok := coordinator.Result{
		CycleID: "5b1f3a0e-6f0e-4a53-9a53-0b7c1c2d9e11",
		Fetched: 3, Active: 3, Inactive: 1,
		Pruned: []string{"old"},
	}
	if err := s.RecordCycle(context.Background(), ok); err != nil {
		t.Fatalf("record: %v", err)
	}

	failed := coordinator.Result{
		CycleID: "not-a-uuid",
		Setup:   true,
		Kind:    gateway.KindTimeout,
		Err:     errors.New("deadline"),
	}
	if err := s.RecordCycle(context.Background(), failed); err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(inserted) != 2 {
		t.Fatalf("expected 2 journal rows, got %d", len(inserted))
	}
	if inserted[0].ID != ok.CycleID || inserted[0].Outcome != "success" || inserted[0].Pruned != 1 || inserted[0].ErrorKind != nil {
		t.Fatalf("unexpected success row: %+v", inserted[0])
	}
	if inserted[1].ID == "not-a-uuid" || inserted[1].Outcome != "failure" || *inserted[1].ErrorKind != "timeout" || !inserted[1].Setup {
		t.Fatalf("unexpected failure row: %+v", inserted[1])
	}
	if len(deleted) != 1 || deleted[0] != "old" {
		t.Fatalf("expected pruned device deleted, got %v", deleted)
	}
}

func TestStore_RecentCyclesClampsLimit(t *testing.T) {
	var got int32
	q := &fakeQueries{
		cyclesFn: func(ctx context.Context, limit int32) ([]sqlcgen.RefreshCycle, error) {
			got = limit
			return []sqlcgen.RefreshCycle{{ID: "x", Outcome: "success", Fetched: 2}}, nil
		},
	}
	out, err := NewStore(zerolog.Nop(), q).RecentCycles(context.Background(), 10000)
	if err != nil {
		t.Fatalf("recent cycles: %v", err)
	}
	if got != 50 || len(out) != 1 || out[0].Fetched != 2 {
		t.Fatalf("unexpected limit=%d out=%+v", got, out)
	}
}

func TestStore_ListenerLogsErrors(t *testing.T) {
	q := &fakeQueries{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("expected listener to bound the write")
			}
			return errors.New("db down")
		},
	}
	// Must not panic or block.
	NewStore(zerolog.Nop(), q).Listener()(inventory.Registry{"a": {ID: "a"}})
}

func TestSchema_AllTables(t *testing.T) {
	stmts := AllTables()
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	for _, s := range stmts {
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Fatalf("expected idempotent statement: %s", s)
		}
	}
}
