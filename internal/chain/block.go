package chain

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/triedb"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// AddressID aliases the shared 20-byte account identifier.
type AddressID = cryptoprims.AddressID

// Hash256 aliases the shared 32-byte digest type.
type Hash256 = cryptoprims.Hash256

// MaxBlockTxs caps the transaction count decoded per block, checked
// before allocation.
const MaxBlockTxs = 1 << 16

// BlockHeader is the sealed summary of one block.
type BlockHeader struct {
	Number          uint64
	ParentHash      Hash256
	ChainID         uint32
	TimestampMS     uint64
	StateRoot       Hash256
	TxRoot          Hash256
	ReceiptsRoot    Hash256
	GasUsed         uint64
	GasLimit        uint64
	BaseFee         xuint256.U256
	Proposer        AddressID
	ExtraData       []byte
	ProtocolVersion uint16
}

// Block is a header, its ordered transactions, and the commit bitmap
// recording which validators signed the COMMIT certificate.
type Block struct {
	Header       BlockHeader
	Transactions []*txn.Transaction
	CommitBitmap uint64
}

// Encode serializes the header deterministically.
func (h *BlockHeader) Encode() []byte {
	w := codec.NewWriter(256 + len(h.ExtraData))
	w.WriteU64(h.Number)
	w.WriteFixedBytes(h.ParentHash[:])
	w.WriteU32(h.ChainID)
	w.WriteU64(h.TimestampMS)
	w.WriteFixedBytes(h.StateRoot[:])
	w.WriteFixedBytes(h.TxRoot[:])
	w.WriteFixedBytes(h.ReceiptsRoot[:])
	w.WriteU64(h.GasUsed)
	w.WriteU64(h.GasLimit)
	fee := h.BaseFee.Bytes32()
	w.WriteFixedBytes(fee[:])
	w.WriteFixedBytes(h.Proposer[:])
	w.WriteBytes(h.ExtraData)
	w.WriteU16(h.ProtocolVersion)
	return w.Bytes()
}

// Hash is the header's content-addressed identifier.
func (h *BlockHeader) Hash() Hash256 {
	return cryptoprims.HashBLAKE3(h.Encode())
}

// DecodeHeader reverses BlockHeader.Encode.
func DecodeHeader(b []byte) (*BlockHeader, error) {
	r := codec.NewReader(b)
	return decodeHeader(r)
}

func decodeHeader(r *codec.Reader) (*BlockHeader, error) {
	h := &BlockHeader{}
	var err error
	if h.Number, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readHash(r, &h.ParentHash); err != nil {
		return nil, err
	}
	if h.ChainID, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if h.TimestampMS, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if err = readHash(r, &h.StateRoot); err != nil {
		return nil, err
	}
	if err = readHash(r, &h.TxRoot); err != nil {
		return nil, err
	}
	if err = readHash(r, &h.ReceiptsRoot); err != nil {
		return nil, err
	}
	if h.GasUsed, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if h.GasLimit, err = r.ReadU64(); err != nil {
		return nil, err
	}
	fee, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var fee32 [32]byte
	copy(fee32[:], fee)
	h.BaseFee = xuint256.FromBytes32(fee32)
	proposer, err := r.ReadFixedBytes(20)
	if err != nil {
		return nil, err
	}
	copy(h.Proposer[:], proposer)
	if h.ExtraData, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	if len(h.ExtraData) > MaxExtraDataLen {
		return nil, errs.New(errs.ErrInputMalformed, "chain.DecodeHeader", "extra data exceeds cap")
	}
	if h.ProtocolVersion, err = r.ReadU16(); err != nil {
		return nil, err
	}
	return h, nil
}

// Encode serializes the full block.
func (b *Block) Encode() []byte {
	w := codec.NewWriter(512)
	w.WriteBytes(b.Header.Encode())
	w.WriteCount(len(b.Transactions))
	for _, tx := range b.Transactions {
		w.WriteBytes(tx.Encode())
	}
	w.WriteU64(b.CommitBitmap)
	return w.Bytes()
}

// DecodeBlock reverses Block.Encode.
func DecodeBlock(raw []byte) (*Block, error) {
	r := codec.NewReader(raw)
	headerBytes, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadCount(MaxBlockTxs)
	if err != nil {
		return nil, err
	}
	txs := make([]*txn.Transaction, n)
	for i := 0; i < n; i++ {
		txBytes, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		if txs[i], err = txn.Decode(txBytes); err != nil {
			return nil, err
		}
	}
	bitmap, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return &Block{Header: *header, Transactions: txs, CommitBitmap: bitmap}, nil
}

// ComputeTxRoot folds the ordered transaction hashes into a Merkle
// Patricia Trie keyed by transaction index, matching how the state root
// is produced, so inclusion proofs work the same way for both.
func ComputeTxRoot(txs []*txn.Transaction) Hash256 {
	t := triedb.New(triedb.NewMemNodeStore())
	for i, tx := range txs {
		var key [8]byte
		putUint64LE(key[:], uint64(i))
		h := tx.Hash()
		_ = t.Put(key[:], h[:])
	}
	return t.Root()
}

// ComputeReceiptsRoot does the same for receipt encodings.
func ComputeReceiptsRoot(receipts []*txn.Receipt) Hash256 {
	t := triedb.New(triedb.NewMemNodeStore())
	for i, rc := range receipts {
		var key [8]byte
		putUint64LE(key[:], uint64(i))
		_ = t.Put(key[:], EncodeReceipt(rc))
	}
	return t.Root()
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func readHash(r *codec.Reader, out *Hash256) error {
	b, err := r.ReadFixedBytes(32)
	if err != nil {
		return err
	}
	copy(out[:], b)
	return nil
}
