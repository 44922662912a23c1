package infrastructure

import (
	"context"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

const storeMetaKey = "sequence"

// OrderModel 对应数据库中的 orders 表。
// 时间存为 UTC 纳秒，datetime 列默认只保留毫秒，读回后会与内存中的订单不一致。
type OrderModel struct {
	ID              string `gorm:"primaryKey;size:32"`
	CustomerID      string `gorm:"size:64;index"`
	CustomerName    string `gorm:"size:128"`
	ServiceType     string `gorm:"size:32"`
	SubType         string `gorm:"size:32"`
	Quantity        string `gorm:"size:64"`
	Note            string `gorm:"type:text"`
	Status          string `gorm:"size:16;index"`
	AssigneeID      string `gorm:"size:64"`
	AssigneeName    string `gorm:"size:128"`
	DeadlineNs      *int64 `gorm:"column:deadline_ns"`
	CreatedAtNs     int64  `gorm:"column:created_at_ns;index"`
	OverdueNotified bool
	IsOverdue       bool
	WarningNotified bool
}

func (OrderModel) TableName() string {
	return "orders"
}

// StoreMetaModel 保存订单号序列等元数据
type StoreMetaModel struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value uint64
}

func (StoreMetaModel) TableName() string {
	return "order_store_meta"
}

// MySQLConfig 是连接参数，DSN 由驱动自己拼装
type MySQLConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

// DSN 使用 go-sql-driver 的 Config 生成连接串，避免手工拼接转义问题
func (c MySQLConfig) DSN() string {
	cfg := mysqldriver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// MySQLSnapshotter 在一个事务内整体替换 orders 表。
type MySQLSnapshotter struct {
	db *gorm.DB
}

func NewMySQLSnapshotter(cfg MySQLConfig) (*MySQLSnapshotter, error) {
	db, err := gorm.Open(gormmysql.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "gorm open")
	}
	return NewMySQLSnapshotterWithDB(db)
}

// NewMySQLSnapshotterWithDB 复用已有连接，并确保表结构存在
func NewMySQLSnapshotterWithDB(db *gorm.DB) (*MySQLSnapshotter, error) {
	if err := db.AutoMigrate(&OrderModel{}, &StoreMetaModel{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return &MySQLSnapshotter{db: db}, nil
}

func (m *MySQLSnapshotter) Save(ctx context.Context, snap *domain.Snapshot) error {
	models := make([]OrderModel, 0, len(snap.Orders))
	for id, o := range snap.Orders {
		model := toOrderModel(o)
		model.ID = id
		models = append(models, model)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&OrderModel{}).Error; err != nil {
			return errors.Wrap(err, "clear orders")
		}
		if len(models) > 0 {
			if err := tx.CreateInBatches(models, 100).Error; err != nil {
				return errors.Wrap(err, "insert orders")
			}
		}
		meta := StoreMetaModel{Name: storeMetaKey, Value: snap.Sequence}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error; err != nil {
			return errors.Wrap(err, "save sequence")
		}
		return nil
	})
}

func (m *MySQLSnapshotter) Load(ctx context.Context) (*domain.Snapshot, error) {
	db := m.db.WithContext(ctx)

	var meta StoreMetaModel
	err := db.Where("name = ?", storeMetaKey).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, errors.Wrap(err, "load sequence")
	}

	var models []OrderModel
	if err := db.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "load orders")
	}
	snap := domain.NewSnapshot()
	snap.Sequence = meta.Value
	for i := range models {
		o := toDomainOrder(&models[i])
		snap.Orders[o.ID] = o
	}
	return snap, nil
}

func (m *MySQLSnapshotter) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toOrderModel(o *domain.Order) OrderModel {
	return OrderModel{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		CustomerName:    o.CustomerName,
		ServiceType:     o.ServiceType,
		SubType:         o.SubType,
		Quantity:        o.Quantity,
		Note:            o.Note,
		Status:          string(o.State),
		AssigneeID:      o.AssigneeID,
		AssigneeName:    o.AssigneeName,
		DeadlineNs:      toUnixNano(o.Deadline),
		CreatedAtNs:     o.CreatedAt.UnixNano(),
		OverdueNotified: o.OverdueNotified,
		IsOverdue:       o.IsOverdue,
		WarningNotified: o.WarningNotified,
	}
}

func toDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:              m.ID,
		CustomerID:      m.CustomerID,
		CustomerName:    m.CustomerName,
		ServiceType:     m.ServiceType,
		SubType:         m.SubType,
		Quantity:        m.Quantity,
		Note:            m.Note,
		State:           domain.State(m.Status),
		AssigneeID:      m.AssigneeID,
		AssigneeName:    m.AssigneeName,
		CreatedAt:       time.Unix(0, m.CreatedAtNs).UTC(),
		OverdueNotified: m.OverdueNotified,
		IsOverdue:       m.IsOverdue,
		WarningNotified: m.WarningNotified,
	}
	if m.DeadlineNs != nil {
		d := time.Unix(0, *m.DeadlineNs).UTC()
		o.Deadline = &d
	}
	return o
}

func toUnixNano(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ns := t.UnixNano()
	return &ns
}
