package chain

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/txn"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

// Per-receipt bounds checked at decode time before any allocation.
const (
	MaxLogsPerReceipt = 1 << 12
	MaxTopicsPerLog   = 8
	MaxLogDataLen     = 64 * 1024
)

// EncodeReceipt serializes one receipt with its log entries.
func EncodeReceipt(rc *txn.Receipt) []byte {
	w := codec.NewWriter(256)
	success := uint8(0)
	if rc.Success {
		success = 1
	}
	w.WriteU8(success)
	w.WriteU64(rc.GasUsed)
	w.WriteU64(rc.CumulativeGasUsed)
	price := rc.EffectiveGasPrice.Bytes32()
	w.WriteFixedBytes(price[:])
	w.WriteFixedBytes(rc.PostStateRoot[:])
	w.WriteFixedBytes(rc.BlockHash[:])
	w.WriteU32(rc.TxIndex)
	w.WriteCount(len(rc.Logs))
	for _, l := range rc.Logs {
		w.WriteFixedBytes(l.Address[:])
		w.WriteCount(len(l.Topics))
		for _, topic := range l.Topics {
			w.WriteFixedBytes(topic[:])
		}
		w.WriteBytes(l.Data)
	}
	return w.Bytes()
}

// DecodeReceipt reverses EncodeReceipt.
func DecodeReceipt(b []byte) (*txn.Receipt, error) {
	r := codec.NewReader(b)
	rc := &txn.Receipt{}

	success, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	rc.Success = success == 1
	if rc.GasUsed, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if rc.CumulativeGasUsed, err = r.ReadU64(); err != nil {
		return nil, err
	}
	price, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var price32 [32]byte
	copy(price32[:], price)
	rc.EffectiveGasPrice = xuint256.FromBytes32(price32)
	if err = readHash(r, &rc.PostStateRoot); err != nil {
		return nil, err
	}
	if err = readHash(r, &rc.BlockHash); err != nil {
		return nil, err
	}
	if rc.TxIndex, err = r.ReadU32(); err != nil {
		return nil, err
	}

	logCount, err := r.ReadCount(MaxLogsPerReceipt)
	if err != nil {
		return nil, err
	}
	if logCount > 0 {
		rc.Logs = make([]txn.Log, logCount)
	}
	for i := 0; i < logCount; i++ {
		addrBytes, err := r.ReadFixedBytes(20)
		if err != nil {
			return nil, err
		}
		copy(rc.Logs[i].Address[:], addrBytes)
		topicCount, err := r.ReadCount(MaxTopicsPerLog)
		if err != nil {
			return nil, err
		}
		rc.Logs[i].Topics = make([]Hash256, topicCount)
		for j := 0; j < topicCount; j++ {
			if err = readHash(r, &rc.Logs[i].Topics[j]); err != nil {
				return nil, err
			}
		}
		if rc.Logs[i].Data, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if len(rc.Logs[i].Data) > MaxLogDataLen {
			return nil, errs.New(errs.ErrInputMalformed, "chain.DecodeReceipt", "log data exceeds cap")
		}
	}
	return rc, nil
}
