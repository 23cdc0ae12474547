package solvency

import (
	"context"
)

// guardKey tags contexts handed to collaborators during an operation on pool.
type guardKey struct{ pool *Pool }

// enter rejects calls made from inside one of p's own operations. Such a call
// would otherwise block on p.mu held by the outer operation.
func (p *Pool) enter(ctx context.Context) error {
	if ctx.Value(guardKey{p}) != nil {
		return ErrReentrant
	}
	return ctx.Err()
}

func (p *Pool) guard(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{p}, struct{}{})
}

// ledgerTx records the pre-operation state of every asset it touches and
// restores all of them on rollback unless commit ran first.
type ledgerTx struct {
	saved     map[*Asset]Asset
	committed bool
}

func newLedgerTx() *ledgerTx {
	return &ledgerTx{saved: make(map[*Asset]Asset, 2)}
}

// touch must be called before the first mutation of a.
func (tx *ledgerTx) touch(a *Asset) *Asset {
	if _, ok := tx.saved[a]; !ok {
		tx.saved[a] = a.snapshot()
	}
	return a
}

func (tx *ledgerTx) commit() { tx.committed = true }

func (tx *ledgerTx) rollback() {
	if tx.committed {
		return
	}
	for a, s := range tx.saved {
		*a = s
	}
}
