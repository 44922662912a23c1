package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/logger"
	"github.com/Highkingd/Huygame2341-botdis/internal/pkg/metrics"
	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

var (
	// ErrSnapshotNotFound 表示存储中还没有任何快照（首次启动）
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotCorrupt 表示快照存在但无法解析
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// Snapshotter 负责整个订单集合的序列化与反序列化。
// Save 只在仓储锁内调用，实现不得保留传入的 map。
type Snapshotter interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
	Load(ctx context.Context) (*domain.Snapshot, error)
	Close() error
}

// SnapshotStore 是 domain.OrderRepository 的实现：内存中的订单集合加上写穿透持久化。
// 一把全局互斥锁覆盖 读-校验-写-落盘 全过程，持久化失败时回滚内存修改。
type SnapshotStore struct {
	backend Snapshotter
	idGen   domain.IDGenerator
	metrics *metrics.Registry

	mu     sync.Mutex
	orders map[string]*domain.Order
	seq    uint64 // 已观察到的最大订单序号

	// 快照读取失败且无法挪开时设置，此后拒绝写入，避免覆盖未读出的数据
	persistBlocked error
}

// NewSnapshotStore 创建一个空仓储，启动时需调用 Load。
func NewSnapshotStore(backend Snapshotter, idGen domain.IDGenerator, m *metrics.Registry) *SnapshotStore {
	return &SnapshotStore{
		backend: backend,
		idGen:   idGen,
		metrics: m,
		orders:  make(map[string]*domain.Order),
	}
}

var _ domain.OrderRepository = (*SnapshotStore)(nil)

func (s *SnapshotStore) Create(ctx context.Context, order *domain.Order) (string, error) {
	id, err := s.idGen.Next(ctx)
	if err != nil {
		return "", errors.Wrap(domain.ErrStorage, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[id]; exists {
		logger.Ctx(ctx).Error().Str("order", id).Msg("ID generator returned an id that is already in use")
		return "", errors.Wrapf(domain.ErrDuplicateID, "order %s", id)
	}

	stored := order.Clone()
	stored.ID = id
	if err := stored.Validate(); err != nil {
		return "", err
	}
	s.orders[id] = stored
	prevSeq := s.seq
	s.observe(id)

	if err := s.persistLocked(ctx); err != nil {
		delete(s.orders, id)
		s.seq = prevSeq
		return "", err
	}
	order.ID = id
	return id, nil
}

func (s *SnapshotStore) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	return o.Clone(), nil
}

func (s *SnapshotStore) Update(ctx context.Context, id string, mutate func(o *domain.Order) error) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	next := prev.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id
	if err := next.Validate(); err != nil {
		return nil, err
	}

	s.orders[id] = next
	if err := s.persistLocked(ctx); err != nil {
		s.orders[id] = prev
		return nil, err
	}
	return next.Clone(), nil
}

func (s *SnapshotStore) Delete(ctx context.Context, id string, guard func(o *domain.Order) error) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	removed := prev.Clone()
	if guard != nil {
		if err := guard(removed); err != nil {
			return nil, err
		}
	}

	delete(s.orders, id)
	if err := s.persistLocked(ctx); err != nil {
		s.orders[id] = prev
		return nil, err
	}
	return removed, nil
}

func (s *SnapshotStore) List(context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

// Persist 把整个集合写入后端。正常情况下由每个变更自动调用。
func (s *SnapshotStore) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// Load 在启动时从后端重建集合。快照缺失或损坏时以空集合启动，只记录日志。
func (s *SnapshotStore) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSnapshotNotFound):
		logger.Ctx(ctx).Info().Msg("No order snapshot found, starting with an empty collection")
		snap = domain.NewSnapshot()
	case errors.Is(err, ErrSnapshotCorrupt):
		logger.Ctx(ctx).Warn().Err(err).Msg("Order snapshot is corrupt, starting with an empty collection")
		snap = domain.NewSnapshot()
	default:
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to read order snapshot, starting empty with persistence disabled")
		snap = domain.NewSnapshot()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistBlocked = nil
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) && !errors.Is(err, ErrSnapshotCorrupt) {
		s.persistBlocked = err
	}

	s.orders = make(map[string]*domain.Order, len(snap.Orders))
	s.seq = snap.Sequence
	for key, o := range snap.Orders {
		if o == nil {
			continue
		}
		o = o.Clone()
		o.ID = key
		if err := o.Validate(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order", key).Msg("Skipping invalid order in snapshot")
			continue
		}
		s.orders[key] = o
		s.observe(key)
	}

	if keeper, ok := s.idGen.(domain.SequenceKeeper); ok {
		if err := keeper.Restore(ctx, s.seq); err != nil {
			return errors.Wrap(domain.ErrStorage, err.Error())
		}
	}
	if s.metrics != nil {
		s.metrics.Orders.Set(float64(len(s.orders)))
	}
	logger.Ctx(ctx).Info().Int("orders", len(s.orders)).Uint64("sequence", s.seq).Msg("Order collection loaded")
	return nil
}

// Close 关闭底层存储
func (s *SnapshotStore) Close() error {
	return s.backend.Close()
}

func (s *SnapshotStore) observe(id string) {
	if n, ok := trailingSequence(id); ok && n > s.seq {
		s.seq = n
	}
}

func (s *SnapshotStore) sequenceLocked() uint64 {
	seq := s.seq
	if keeper, ok := s.idGen.(domain.SequenceKeeper); ok && keeper.Sequence() > seq {
		seq = keeper.Sequence()
	}
	return seq
}

func (s *SnapshotStore) persistLocked(ctx context.Context) error {
	if s.persistBlocked != nil {
		return errors.Wrapf(domain.ErrStorage, "persistence disabled, snapshot could not be read: %v", s.persistBlocked)
	}
	snap := &domain.Snapshot{Sequence: s.sequenceLocked(), Orders: s.orders}
	start := time.Now()
	err := s.backend.Save(ctx, snap)
	if s.metrics != nil {
		s.metrics.PersistLatency.Observe(time.Since(start).Seconds())
		s.metrics.Orders.Set(float64(len(s.orders)))
		if err != nil {
			s.metrics.PersistFailures.Inc()
		}
	}
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to persist order snapshot")
		return errors.Wrapf(domain.ErrStorage, "persist: %v", err)
	}
	return nil
}
