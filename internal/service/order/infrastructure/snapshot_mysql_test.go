package infrastructure

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// nanosecond timestamps, as produced by time.Now()
func mysqlSampleSnapshot() *domain.Snapshot {
	created := time.Date(2025, 6, 1, 9, 0, 0, 123456789, time.UTC)
	deadline := created.Add(2*time.Hour + 987654321)
	return &domain.Snapshot{Sequence: 7, Orders: map[string]*domain.Order{
		"CS0006": {ID: "CS0006", CustomerID: "u1", ServiceType: "RP", State: domain.StatePending, CreatedAt: created},
		"CS0007": {
			ID: "CS0007", CustomerID: "u2", ServiceType: "SL", Note: "asap", State: domain.StateAssigned,
			AssigneeID: "staff-x", AssigneeName: "Xuan", Deadline: &deadline, CreatedAt: created.Add(time.Nanosecond),
			WarningNotified: true,
		},
	}}
}

func TestOrderModel_KeepsNanosecondTimestamps(t *testing.T) {
	for id, want := range mysqlSampleSnapshot().Orders {
		model := toOrderModel(want)
		got := toDomainOrder(&model)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", id, diff)
		}
	}

	model := toOrderModel(&domain.Order{ID: "CS0001", CreatedAt: time.Unix(0, 1).UTC()})
	assert.Nil(t, model.DeadlineNs)
	assert.Equal(t, int64(1), model.CreatedAtNs)
}

// MYSQL_TEST_ADDR 指向一个可写的测试库时才运行，例如 127.0.0.1:3306
func TestMySQLSnapshotter_RoundTrip(t *testing.T) {
	addr := os.Getenv("MYSQL_TEST_ADDR")
	if addr == "" {
		t.Skip("MYSQL_TEST_ADDR not set")
	}
	ms, err := NewMySQLSnapshotter(MySQLConfig{
		Addr:     addr,
		User:     os.Getenv("MYSQL_TEST_USER"),
		Password: os.Getenv("MYSQL_TEST_PASSWORD"),
		Database: os.Getenv("MYSQL_TEST_DATABASE"),
	})
	require.NoError(t, err)
	defer ms.Close()
	ctx := context.Background()

	want := mysqlSampleSnapshot()
	require.NoError(t, ms.Save(ctx, &domain.Snapshot{Sequence: 1, Orders: map[string]*domain.Order{
		"CS0001": {ID: "CS0001", CustomerID: "gone", State: domain.StatePending, CreatedAt: time.Unix(1, 0).UTC()},
	}}))
	require.NoError(t, ms.Save(ctx, want))

	got, err := ms.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
