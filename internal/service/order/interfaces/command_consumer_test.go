package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
)

// fakeReader 按顺序返回预置消息，取完后阻塞到 ctx 结束
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) replies(t *testing.T) []Reply {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Reply, 0, len(w.msgs))
	for _, m := range w.msgs {
		var r Reply
		require.NoError(t, json.Unmarshal(m.Value, &r))
		assert.Equal(t, r.RequestID, string(m.Key))
		out = append(out, r)
	}
	return out
}

func commandMessage(t *testing.T, offset int64, cmd Command) kafka.Message {
	t.Helper()
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	return kafka.Message{Topic: "order-commands", Offset: offset, Value: body}
}

func TestCommandConsumer_RepliesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		commandMessage(t, 1, Command{RequestID: "req-1", Name: "donhang", CallerID: customerID, Args: json.RawMessage(`{"serviceType":"RP"}`)}),
		{Topic: "order-commands", Offset: 2, Value: []byte("not json")},
		commandMessage(t, 3, Command{RequestID: "req-3", Name: "duyetdon", CallerID: customerID, OrderID: "CS0001"}),
	}}
	writer := &captureWriter{}
	m := metrics.NewRegistry()
	consumer := NewCommandConsumerAdapter(reader, writer, NewCommandDispatcher(newTestService(t)), otel.Tracer("test"), m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []int64{1, 2, 3}, reader.commits(), "invalid messages are committed too")
	assert.True(t, reader.closed)

	replies := writer.replies(t)
	require.Len(t, replies, 2, "no reply for an unparsable message")
	assert.True(t, replies[0].OK)
	assert.Equal(t, "CS0001", replies[0].Order.ID)
	assert.False(t, replies[1].OK)
	assert.Equal(t, "forbidden", replies[1].Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsConsumed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsConsumed.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsConsumed.WithLabelValues("rejected")))
}
