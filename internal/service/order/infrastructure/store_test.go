package infrastructure

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// memSnapshotter keeps a deep copy of the last saved snapshot.
type memSnapshotter struct {
	mu    sync.Mutex
	snap  *domain.Snapshot
	fail  bool
	saves int
}

func (m *memSnapshotter) Save(_ context.Context, snap *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.saves++
	cp := &domain.Snapshot{Sequence: snap.Sequence, Orders: make(map[string]*domain.Order, len(snap.Orders))}
	for id, o := range snap.Orders {
		cp.Orders[id] = o.Clone()
	}
	m.snap = cp
	return nil
}

func (m *memSnapshotter) Load(context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return m.snap, nil
}

func (m *memSnapshotter) Close() error { return nil }

func newOrder(t *testing.T, customer string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(domain.Submission{CustomerID: customer, ServiceType: "SL", Quantity: "1000000"},
		time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return o
}

func newTestStore(t *testing.T, backend Snapshotter) *SnapshotStore {
	t.Helper()
	s := NewSnapshotStore(backend, NewSequenceGenerator("CS"), metrics.NewRegistry())
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestSnapshotStore_CreateAssignsSequentialIDs(t *testing.T) {
	backend := &memSnapshotter{}
	s := newTestStore(t, backend)
	ctx := context.Background()

	id1, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)
	id2, err := s.Create(ctx, newOrder(t, "u2"))
	require.NoError(t, err)

	assert.Equal(t, "CS0001", id1)
	assert.Equal(t, "CS0002", id2)
	assert.Equal(t, 2, backend.saves)
	assert.Equal(t, uint64(2), backend.snap.Sequence)
}

func TestSnapshotStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t, &memSnapshotter{})
	ctx := context.Background()
	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	got.Note = "changed outside the store"

	again, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, again.Note)

	_, err = s.Get(ctx, "CS9999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotStore_MutateErrorLeavesOrderUntouched(t *testing.T) {
	backend := &memSnapshotter{}
	s := newTestStore(t, backend)
	ctx := context.Background()
	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)
	saves := backend.saves

	_, err = s.Update(ctx, id, func(o *domain.Order) error {
		o.Note = "half-applied"
		return o.Complete("nobody")
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, _ := s.Get(ctx, id)
	assert.Empty(t, got.Note)
	assert.Equal(t, saves, backend.saves, "failed mutation must not persist")
}

func TestSnapshotStore_PersistFailureRollsBack(t *testing.T) {
	backend := &memSnapshotter{}
	s := newTestStore(t, backend)
	ctx := context.Background()
	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)

	backend.fail = true

	_, err = s.Update(ctx, id, func(o *domain.Order) error { return o.Approve() })
	assert.ErrorIs(t, err, domain.ErrStorage)
	got, _ := s.Get(ctx, id)
	assert.Equal(t, domain.StatePending, got.State)

	_, err = s.Delete(ctx, id, nil)
	assert.ErrorIs(t, err, domain.ErrStorage)
	_, err = s.Get(ctx, id)
	assert.NoError(t, err, "delete must be rolled back")

	_, err = s.Create(ctx, newOrder(t, "u2"))
	assert.ErrorIs(t, err, domain.ErrStorage)
	all, _ := s.List(ctx)
	assert.Len(t, all, 1)
}

func TestSnapshotStore_DeleteGuard(t *testing.T) {
	s := newTestStore(t, &memSnapshotter{})
	ctx := context.Background()
	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)

	_, err = s.Delete(ctx, id, func(o *domain.Order) error { return o.Cancel("intruder") })
	assert.ErrorIs(t, err, domain.ErrForbidden)

	removed, err := s.Delete(ctx, id, func(o *domain.Order) error { return o.Cancel("u1") })
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, removed.State)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSnapshotStore_IDsNotReusedAfterRestart(t *testing.T) {
	backend := &memSnapshotter{}
	ctx := context.Background()
	s := newTestStore(t, backend)
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, newOrder(t, "u1"))
		require.NoError(t, err)
	}
	_, err := s.Delete(ctx, "CS0003", nil)
	require.NoError(t, err)

	restarted := newTestStore(t, backend)
	id, err := restarted.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "CS0004", id)
}

func TestSnapshotStore_LoadRecoversSequenceFromIDs(t *testing.T) {
	backend := &memSnapshotter{snap: &domain.Snapshot{Orders: map[string]*domain.Order{
		"CS0041": newOrder(t, "u1"),
	}}}
	s := newTestStore(t, backend)

	got, err := s.Get(context.Background(), "CS0041")
	require.NoError(t, err)
	assert.Equal(t, "CS0041", got.ID, "id is filled from the map key")

	id, err := s.Create(context.Background(), newOrder(t, "u2"))
	require.NoError(t, err)
	assert.Equal(t, "CS0042", id)
}

func TestSnapshotStore_ConcurrentAssignHasOneWinner(t *testing.T) {
	s := newTestStore(t, &memSnapshotter{})
	ctx := context.Background()
	id, err := s.Create(ctx, newOrder(t, "u1"))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, id, func(o *domain.Order) error {
				return o.Assign("staff", "Staff", 2, time.Now())
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, wins)
}

func TestFileSnapshotter_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "orders.json")
	fs, err := NewFileSnapshotter(path)
	require.NoError(t, err)
	ctx := context.Background()

	deadline := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	want := &domain.Snapshot{Sequence: 7, Orders: map[string]*domain.Order{
		"CS0001": {ID: "CS0001", CustomerID: "u1", ServiceType: "SL", State: domain.StatePending,
			CreatedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
		"CS0007": {ID: "CS0007", CustomerID: "u2", ServiceType: "RP", State: domain.StateAssigned,
			AssigneeID: "s1", Deadline: &deadline, IsOverdue: true, OverdueNotified: true,
			CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}}
	require.NoError(t, fs.Save(ctx, want))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSnapshotter_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.json")
	fs, err := NewFileSnapshotter(path)
	require.NoError(t, err)

	_, err = fs.Load(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = fs.Load(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)

	matches, _ := filepath.Glob(path + ".corrupt-*")
	assert.Len(t, matches, 1, "corrupt file is kept aside")

	// the store starts empty instead of failing
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	s := NewSnapshotStore(fs, NewSequenceGenerator("CS"), nil)
	require.NoError(t, s.Load(context.Background()))
	all, _ := s.List(context.Background())
	assert.Empty(t, all)
}

// brokenSnapshotter 的 Load 总是返回非 NotFound 的错误
type brokenSnapshotter struct {
	memSnapshotter
}

func (b *brokenSnapshotter) Load(context.Context) (*domain.Snapshot, error) {
	return nil, errors.New("permission denied")
}

func TestFileSnapshotter_UnreadableFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.json")
	// 目录无法按文件读取，但也不是 NotExist
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o644))
	fs, err := NewFileSnapshotter(path)
	require.NoError(t, err)

	_, err = fs.Load(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotCorrupt)
	matches, _ := filepath.Glob(path + ".unreadable-*")
	require.Len(t, matches, 1)
	_, err = os.Stat(filepath.Join(matches[0], "keep"))
	assert.NoError(t, err, "original content is preserved")

	s := NewSnapshotStore(fs, NewSequenceGenerator("CS"), nil)
	require.NoError(t, s.Load(context.Background()))
	id, err := s.Create(context.Background(), newOrder(t, "u1"))
	require.NoError(t, err)
	assert.Equal(t, "CS0001", id)
}

func TestSnapshotStore_UnreadableSnapshotBlocksPersist(t *testing.T) {
	backend := &brokenSnapshotter{}
	s := NewSnapshotStore(backend, NewSequenceGenerator("CS"), nil)
	require.NoError(t, s.Load(context.Background()))

	_, err := s.Create(context.Background(), newOrder(t, "u1"))
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Zero(t, backend.saves, "nothing is written over the unread snapshot")

	all, _ := s.List(context.Background())
	assert.Empty(t, all, "failed create is rolled back")
}

func TestPebbleSnapshotter_RoundTrip(t *testing.T) {
	ps, err := NewPebbleSnapshotter(filepath.Join(t.TempDir(), "orders.pebble"))
	require.NoError(t, err)
	defer ps.Close()
	ctx := context.Background()

	_, err = ps.Load(ctx)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	first := &domain.Snapshot{Sequence: 2, Orders: map[string]*domain.Order{
		"CS0001": {ID: "CS0001", CustomerID: "u1", State: domain.StatePending, CreatedAt: time.Unix(100, 0).UTC()},
		"CS0002": {ID: "CS0002", CustomerID: "u2", State: domain.StateApproved, CreatedAt: time.Unix(200, 0).UTC()},
	}}
	require.NoError(t, ps.Save(ctx, first))

	// a later save replaces the whole range, including removals
	second := &domain.Snapshot{Sequence: 3, Orders: map[string]*domain.Order{
		"CS0002": first.Orders["CS0002"],
		"CS0003": {ID: "CS0003", CustomerID: "u3", State: domain.StatePending, CreatedAt: time.Unix(300, 0).UTC()},
	}}
	require.NoError(t, ps.Save(ctx, second))

	got, err := ps.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestMySQLConfig_DSN(t *testing.T) {
	dsn := MySQLConfig{Addr: "db:3306", User: "bot", Password: "p@ss", Database: "orders"}.DSN()
	assert.Contains(t, dsn, "bot:p@ss@tcp(db:3306)/orders")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestTrailingSequence(t *testing.T) {
	n, ok := trailingSequence("CS0042")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)

	_, ok = trailingSequence("legacy")
	assert.False(t, ok)

	assert.Equal(t, "CS12345", formatID("CS", 12345))
}
