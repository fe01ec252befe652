package chain

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/kv"
	"github.com/Basalt-Foundation/basalt/internal/txn"
)

// RecentBlockWindow is how many blocks the in-memory cache holds in
// front of the persistent store.
const RecentBlockWindow = 256

// BlockStore persists blocks, the number → hash index, receipts, and the
// tx → block index, with a fixed-size LRU serving block-by-number reads
// for recent history; misses fall through to disk.
type BlockStore struct {
	kv     *kv.Store
	log    *logrus.Logger
	byHash *lru.Cache[Hash256, *Block]
	byNum  *lru.Cache[uint64, Hash256]
}

// NewBlockStore wraps a kv store.
func NewBlockStore(store *kv.Store, log *logrus.Logger) (*BlockStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byHash, err := lru.New[Hash256, *Block](RecentBlockWindow)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "chain.NewBlockStore", err)
	}
	byNum, err := lru.New[uint64, Hash256](RecentBlockWindow)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInternal, "chain.NewBlockStore", err)
	}
	return &BlockStore{kv: store, log: log, byHash: byHash, byNum: byNum}, nil
}

// PutBlock writes the block, its number index entry, its receipts, and
// per-transaction index entries in one atomic batch, then updates the
// caches.
func (s *BlockStore) PutBlock(b *Block, receipts []*txn.Receipt) error {
	hash := b.Header.Hash()

	batch := s.kv.NewBatch(s.log)
	defer batch.Finalize()
	batch.Put(kv.CFBlocks, hash[:], b.Encode())

	var numKey [8]byte
	binary.LittleEndian.PutUint64(numKey[:], b.Header.Number)
	batch.Put(kv.CFBlockIndex, numKey[:], hash[:])

	for i, tx := range b.Transactions {
		txHash := tx.Hash()
		if i < len(receipts) {
			batch.Put(kv.CFReceipts, txHash[:], EncodeReceipt(receipts[i]))
			for li, l := range receipts[i].Logs {
				batch.Put(kv.CFLogs, logIndexKey(l, txHash, uint32(li)), l.Data)
			}
		}
		idx := make([]byte, 36)
		copy(idx[:32], hash[:])
		binary.LittleEndian.PutUint32(idx[32:], uint32(i))
		batch.Put(kv.CFTxIndex, txHash[:], idx)
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	s.byHash.Add(hash, b)
	s.byNum.Add(b.Header.Number, hash)
	return nil
}

// GetBlockByHash reads a block, preferring the cache.
func (s *BlockStore) GetBlockByHash(hash Hash256) (*Block, bool, error) {
	if b, ok := s.byHash.Get(hash); ok {
		return b, true, nil
	}
	raw, ok, err := s.kv.Get(kv.CFBlocks, hash[:])
	if err != nil || !ok {
		return nil, false, err
	}
	b, err := DecodeBlock(raw)
	if err != nil {
		return nil, false, err
	}
	s.byHash.Add(hash, b)
	return b, true, nil
}

// GetBlockByNumber resolves number → hash → block, with both steps
// cache-fronted.
func (s *BlockStore) GetBlockByNumber(number uint64) (*Block, bool, error) {
	if hash, ok := s.byNum.Get(number); ok {
		return s.GetBlockByHash(hash)
	}
	var numKey [8]byte
	binary.LittleEndian.PutUint64(numKey[:], number)
	raw, ok, err := s.kv.Get(kv.CFBlockIndex, numKey[:])
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) != 32 {
		return nil, false, errs.New(errs.ErrInternal, "chain.GetBlockByNumber", "corrupt block index entry")
	}
	var hash Hash256
	copy(hash[:], raw)
	s.byNum.Add(number, hash)
	return s.GetBlockByHash(hash)
}

// GetReceipt reads the receipt stored for a transaction hash.
func (s *BlockStore) GetReceipt(txHash Hash256) (*txn.Receipt, bool, error) {
	raw, ok, err := s.kv.Get(kv.CFReceipts, txHash[:])
	if err != nil || !ok {
		return nil, false, err
	}
	rc, err := DecodeReceipt(raw)
	if err != nil {
		return nil, false, err
	}
	return rc, true, nil
}

// LookupTx resolves a transaction hash to its containing block hash and
// index.
func (s *BlockStore) LookupTx(txHash Hash256) (Hash256, uint32, bool, error) {
	raw, ok, err := s.kv.Get(kv.CFTxIndex, txHash[:])
	if err != nil || !ok {
		return Hash256{}, 0, false, err
	}
	if len(raw) != 36 {
		return Hash256{}, 0, false, errs.New(errs.ErrInternal, "chain.LookupTx", "corrupt tx index entry")
	}
	var blockHash Hash256
	copy(blockHash[:], raw[:32])
	return blockHash, binary.LittleEndian.Uint32(raw[32:]), true, nil
}

// logIndexKey lays a log out for contract+topic range scans:
// address (20B) || first topic (32B, zero when absent) || tx hash || log index.
func logIndexKey(l txn.Log, txHash Hash256, logIdx uint32) []byte {
	key := make([]byte, 20+32+32+4)
	copy(key[:20], l.Address[:])
	if len(l.Topics) > 0 {
		copy(key[20:52], l.Topics[0][:])
	}
	copy(key[52:84], txHash[:])
	binary.LittleEndian.PutUint32(key[84:], logIdx)
	return key
}

// LogsByContract scans the log index for one contract address,
// optionally narrowed to a first topic, invoking fn per entry.
func (s *BlockStore) LogsByContract(addr AddressID, topic *Hash256, fn func(key, data []byte) bool) error {
	prefix := make([]byte, 0, 52)
	prefix = append(prefix, addr[:]...)
	if topic != nil {
		prefix = append(prefix, topic[:]...)
	}
	return s.kv.IteratePrefix(kv.CFLogs, prefix, fn)
}

// DeleteBlock removes a block and its index entries — the sync
// rollback path. Receipts, log index entries, and tx index entries for
// the block's transactions are removed with it.
func (s *BlockStore) DeleteBlock(b *Block) error {
	hash := b.Header.Hash()
	batch := s.kv.NewBatch(s.log)
	defer batch.Finalize()
	batch.Delete(kv.CFBlocks, hash[:])
	var numKey [8]byte
	binary.LittleEndian.PutUint64(numKey[:], b.Header.Number)
	batch.Delete(kv.CFBlockIndex, numKey[:])
	for _, tx := range b.Transactions {
		txHash := tx.Hash()
		if rc, ok, err := s.GetReceipt(txHash); err == nil && ok {
			for li, l := range rc.Logs {
				batch.Delete(kv.CFLogs, logIndexKey(l, txHash, uint32(li)))
			}
		}
		batch.Delete(kv.CFReceipts, txHash[:])
		batch.Delete(kv.CFTxIndex, txHash[:])
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	s.byHash.Remove(hash)
	s.byNum.Remove(b.Header.Number)
	return nil
}
