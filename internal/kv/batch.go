package kv

import (
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Batch accumulates writes across one or more column families for an
// atomic commit. It must be committed explicitly; a batch that goes out
// of scope without Commit or Discard logs a warning rather than
// committing itself, since silently auto-committing on GC would hide a
// caller bug.
type Batch struct {
	b         *leveldb.Batch
	store     *Store
	logger    *logrus.Logger
	committed bool
	discarded bool
}

// NewBatch starts a new atomic batch against s.
func (s *Store) NewBatch(logger *logrus.Logger) *Batch {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Batch{b: new(leveldb.Batch), store: s, logger: logger}
}

// Put stages a write.
func (bt *Batch) Put(cf CF, key, value []byte) { bt.b.Put(prefixedKey(cf, key), value) }

// Delete stages a deletion.
func (bt *Batch) Delete(cf CF, key []byte) { bt.b.Delete(prefixedKey(cf, key)) }

// Commit atomically applies every staged write.
func (bt *Batch) Commit() error {
	if bt.committed || bt.discarded {
		return errs.New(errs.ErrInternal, "kv.Batch.Commit", "batch already finalized")
	}
	if err := bt.store.db.Write(bt.b, nil); err != nil {
		return errs.Wrap(errs.ErrInternal, "kv.Batch.Commit", err)
	}
	bt.committed = true
	return nil
}

// Discard explicitly abandons a batch without committing it. Callers
// that build a batch speculatively and decide not to apply it must call
// this rather than simply dropping the reference, so the intent is
// recorded rather than silently relying on GC.
func (bt *Batch) Discard() {
	bt.discarded = true
}

// Finalize is a deferred safety net: call via `defer bt.Finalize()` right
// after NewBatch. If the batch reaches this point neither committed nor
// explicitly discarded, that is a caller bug — log it instead of
// committing on its behalf.
func (bt *Batch) Finalize() {
	if !bt.committed && !bt.discarded {
		bt.logger.Warn("kv: batch dropped without explicit Commit or Discard")
	}
}
