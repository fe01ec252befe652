package txn

import "github.com/Basalt-Foundation/basalt/internal/cryptoprims"

// Hash returns the transaction's content-addressed identifier: BLAKE3 over
// the full wire encoding, including signature and sender public key, so
// two transactions that differ only in a re-signed payload hash distinctly.
func (tx *Transaction) Hash() Hash256 {
	return cryptoprims.HashBLAKE3(tx.Encode())
}
