package txn

import (
	"github.com/Basalt-Foundation/basalt/internal/codec"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func encodeComplianceProofs(w *codec.Writer, proofs []ComplianceProof) {
	w.WriteCount(len(proofs))
	for _, p := range proofs {
		w.WriteU32(p.SchemaID)
		w.WriteFixedBytes(p.Nullifier[:])
		w.WriteBytes(p.ProofBytes)
		w.WriteBytes(p.PublicInputs)
	}
}

// EncodeComplianceProofs produces the canonical encoding folded into the
// signing payload via BLAKE3.
func EncodeComplianceProofs(proofs []ComplianceProof) []byte {
	w := codec.NewWriter(64 * len(proofs))
	encodeComplianceProofs(w, proofs)
	return w.Bytes()
}

func decodeComplianceProofs(r *codec.Reader) ([]ComplianceProof, error) {
	n, err := r.ReadCount(1 << 16)
	if err != nil {
		return nil, err
	}
	out := make([]ComplianceProof, n)
	for i := 0; i < n; i++ {
		if out[i].SchemaID, err = r.ReadU32(); err != nil {
			return nil, err
		}
		nullifier, err := r.ReadFixedBytes(32)
		if err != nil {
			return nil, err
		}
		copy(out[i].Nullifier[:], nullifier)
		if out[i].ProofBytes, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if out[i].PublicInputs, err = r.ReadBytes(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeUnsignedFields writes every field the signature covers, in
// order, excluding the signature and sender public key themselves.
func encodeUnsignedFields(w *codec.Writer, tx *Transaction) {
	w.WriteU8(uint8(tx.Type))
	w.WriteU64(tx.Nonce)
	w.WriteFixedBytes(tx.Sender[:])
	w.WriteFixedBytes(tx.To[:])
	valBytes := tx.Value.Bytes32()
	w.WriteFixedBytes(valBytes[:])
	w.WriteBytes(tx.Data)
	w.WriteU64(tx.GasLimit)
	gp := tx.GasPrice.Bytes32()
	w.WriteFixedBytes(gp[:])
	mf := tx.MaxFeePerGas.Bytes32()
	w.WriteFixedBytes(mf[:])
	mp := tx.MaxPriorityFeePerGas.Bytes32()
	w.WriteFixedBytes(mp[:])
	w.WriteU32(tx.ChainID)
	w.WriteU8(tx.Priority)
	proofsDigest := cryptoprims.HashBLAKE3(EncodeComplianceProofs(tx.ComplianceProofs))
	w.WriteFixedBytes(proofsDigest[:])
}

// SigningPayload is exactly what Signature is computed over: the
// canonical encoding of every field plus
// BLAKE3(canonical_encoding(ComplianceProofs)) folded in.
func SigningPayload(tx *Transaction) []byte {
	w := codec.NewWriter(256)
	encodeUnsignedFields(w, tx)
	return w.Bytes()
}

// Encode serializes the full wire transaction, including signature and
// sender public key.
func (tx *Transaction) Encode() []byte {
	w := codec.NewWriter(320)
	encodeUnsignedFields(w, tx)
	encodeComplianceProofs(w, tx.ComplianceProofs)
	w.WriteFixedBytes(tx.Signature[:])
	w.WriteFixedBytes(tx.SenderPublicKey[:])
	return w.Bytes()
}

// Decode reverses Encode.
func Decode(b []byte) (*Transaction, error) {
	r := codec.NewReader(b)
	tx := &Transaction{}

	typeByte, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	tx.Type = Type(typeByte)
	if tx.Nonce, err = r.ReadU64(); err != nil {
		return nil, err
	}
	sender, err := r.ReadFixedBytes(20)
	if err != nil {
		return nil, err
	}
	copy(tx.Sender[:], sender)
	to, err := r.ReadFixedBytes(20)
	if err != nil {
		return nil, err
	}
	copy(tx.To[:], to)

	value, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var value32 [32]byte
	copy(value32[:], value)
	tx.Value = xuint256.FromBytes32(value32)

	if tx.Data, err = r.ReadBytes(); err != nil {
		return nil, err
	}
	if len(tx.Data) > MaxDataLen {
		return nil, errs.New(errs.ErrInputMalformed, "txn.Decode", "data exceeds cap")
	}
	if tx.GasLimit, err = r.ReadU64(); err != nil {
		return nil, err
	}

	gasPrice, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var gp32 [32]byte
	copy(gp32[:], gasPrice)
	tx.GasPrice = xuint256.FromBytes32(gp32)

	maxFee, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var mf32 [32]byte
	copy(mf32[:], maxFee)
	tx.MaxFeePerGas = xuint256.FromBytes32(mf32)

	maxPriority, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	var mp32 [32]byte
	copy(mp32[:], maxPriority)
	tx.MaxPriorityFeePerGas = xuint256.FromBytes32(mp32)

	if tx.ChainID, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if tx.Priority, err = r.ReadU8(); err != nil {
		return nil, err
	}
	// proofs digest (recomputed, not trusted) is skipped on decode
	if _, err = r.ReadFixedBytes(32); err != nil {
		return nil, err
	}

	if tx.ComplianceProofs, err = decodeComplianceProofs(r); err != nil {
		return nil, err
	}

	sig, err := r.ReadFixedBytes(64)
	if err != nil {
		return nil, err
	}
	copy(tx.Signature[:], sig)

	pub, err := r.ReadFixedBytes(32)
	if err != nil {
		return nil, err
	}
	copy(tx.SenderPublicKey[:], pub)

	return tx, nil
}
