package domain

import "context"

// IDGenerator 产生便于人工输入的订单号，生命周期内不重复
type IDGenerator interface {
	Next(ctx context.Context) (string, error)
}

// SequenceKeeper is implemented by generators whose counter travels with the snapshot.
type SequenceKeeper interface {
	// Sequence returns the last issued counter value.
	Sequence() uint64
	// Restore raises the counter to at least seq. It never lowers it.
	Restore(ctx context.Context, seq uint64) error
}
