package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
)

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv, err := cryptoprims.GenerateEd25519()
	require.NoError(t, err)
	sender := cryptoprims.DeriveAddress(pub)

	tx := &Transaction{
		Type:                 TypeContractCall,
		Nonce:                42,
		Sender:               sender,
		To:                   AddressID{1, 2, 3},
		Value:                xuint256.FromUint64(777),
		Data:                 []byte("payload"),
		GasLimit:             100_000,
		MaxFeePerGas:         xuint256.FromUint64(10),
		MaxPriorityFeePerGas: xuint256.FromUint64(2),
		ChainID:              99,
		Priority:             3,
		ComplianceProofs: []ComplianceProof{
			{SchemaID: 1, Nullifier: Hash256{1}, ProofBytes: []byte("proof"), PublicInputs: []byte("inputs")},
		},
	}
	Sign(tx, pub, priv)

	decoded, err := Decode(tx.Encode())
	require.NoError(t, err)

	require.Equal(t, tx.Type, decoded.Type)
	require.Equal(t, tx.Nonce, decoded.Nonce)
	require.Equal(t, tx.Sender, decoded.Sender)
	require.Equal(t, tx.To, decoded.To)
	require.Equal(t, tx.Value.String(), decoded.Value.String())
	require.Equal(t, tx.Data, decoded.Data)
	require.Equal(t, tx.GasLimit, decoded.GasLimit)
	require.Equal(t, tx.ChainID, decoded.ChainID)
	require.Equal(t, tx.Priority, decoded.Priority)
	require.Equal(t, tx.ComplianceProofs, decoded.ComplianceProofs)
	require.Equal(t, tx.Signature, decoded.Signature)
	require.Equal(t, tx.SenderPublicKey, decoded.SenderPublicKey)
	require.NoError(t, VerifySignature(decoded))
}

func TestSigningPayloadChangesWithComplianceProofs(t *testing.T) {
	tx := &Transaction{Type: TypeTransfer, Nonce: 1}
	base := SigningPayload(tx)

	tx.ComplianceProofs = []ComplianceProof{{SchemaID: 1}}
	withProof := SigningPayload(tx)

	require.NotEqual(t, base, withProof)
}

func TestDecodeRejectsOversizedData(t *testing.T) {
	pub, priv, err := cryptoprims.GenerateEd25519()
	require.NoError(t, err)
	tx := &Transaction{
		Type:   TypeTransfer,
		Sender: cryptoprims.DeriveAddress(pub),
		Data:   make([]byte, MaxDataLen+1),
	}
	Sign(tx, pub, priv)

	_, err = Decode(tx.Encode())
	require.Error(t, err)
}
