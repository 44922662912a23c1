package infrastructure

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

var (
	pebbleOrderPrefix = []byte("order/")
	pebbleOrderEnd    = []byte("order0") // '0' 紧跟在 '/' 之后，作为前缀范围的上界
	pebbleSequenceKey = []byte("meta/sequence")
)

// PebbleSnapshotter 每个订单一个 key，每次持久化在一个同步 batch 里整体替换。
type PebbleSnapshotter struct {
	db *pebble.DB
}

func NewPebbleSnapshotter(dir string) (*PebbleSnapshotter, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble open")
	}
	return &PebbleSnapshotter{db: db}, nil
}

func (p *PebbleSnapshotter) Save(_ context.Context, snap *domain.Snapshot) error {
	b := p.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(pebbleOrderPrefix, pebbleOrderEnd, nil); err != nil {
		return errors.Wrap(err, "pebble delete range")
	}
	for id, o := range snap.Orders {
		val, err := json.Marshal(o)
		if err != nil {
			return errors.Wrapf(err, "encode order %s", id)
		}
		if err := b.Set(orderKey(id), val, nil); err != nil {
			return errors.Wrapf(err, "pebble set %s", id)
		}
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, snap.Sequence)
	if err := b.Set(pebbleSequenceKey, seq, nil); err != nil {
		return errors.Wrap(err, "pebble set sequence")
	}
	return errors.Wrap(b.Commit(pebble.Sync), "pebble commit")
}

func (p *PebbleSnapshotter) Load(context.Context) (*domain.Snapshot, error) {
	snap := domain.NewSnapshot()

	seqVal, closer, err := p.db.Get(pebbleSequenceKey)
	switch {
	case err == nil:
		if len(seqVal) != 8 {
			closer.Close()
			return nil, errors.Wrap(ErrSnapshotCorrupt, "pebble: malformed sequence")
		}
		snap.Sequence = binary.BigEndian.Uint64(seqVal)
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
		// 没有写过 sequence 说明从未持久化过
		return nil, ErrSnapshotNotFound
	default:
		return nil, errors.Wrap(err, "pebble get sequence")
	}

	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: pebbleOrderPrefix, UpperBound: pebbleOrderEnd})
	if err != nil {
		return nil, errors.Wrap(err, "pebble iterator")
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		id := string(it.Key()[len(pebbleOrderPrefix):])
		var o domain.Order
		if err := json.Unmarshal(it.Value(), &o); err != nil {
			return nil, errors.Wrapf(ErrSnapshotCorrupt, "pebble order %s: %v", id, err)
		}
		snap.Orders[id] = &o
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "pebble iterate")
	}
	return snap, nil
}

func (p *PebbleSnapshotter) Close() error { return p.db.Close() }

func orderKey(id string) []byte {
	k := make([]byte, 0, len(pebbleOrderPrefix)+len(id))
	k = append(k, pebbleOrderPrefix...)
	return append(k, id...)
}
