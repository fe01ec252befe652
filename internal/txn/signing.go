package txn

import (
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// Sign computes SigningPayload(tx), signs it with priv, and sets
// tx.Signature and tx.SenderPublicKey (the latter set from pub as given;
// VerifySignature rejects a pub that does not match Sender or the
// signature).
func Sign(tx *Transaction, pub cryptoprims.Ed25519PublicKey, priv cryptoprims.Ed25519PrivateKey) {
	tx.SenderPublicKey = pub
	tx.Signature = cryptoprims.SignEd25519(priv, SigningPayload(tx))
}

// VerifySignature checks tx.Signature against tx.SenderPublicKey over
// the signing payload, and that tx.Sender is actually derived from that
// public key (sender-matches-public-key).
func VerifySignature(tx *Transaction) error {
	if cryptoprims.DeriveAddress(tx.SenderPublicKey) != tx.Sender {
		return errs.New(errs.ErrAuthInvalid, "txn.VerifySignature", "sender does not match public key")
	}
	if !cryptoprims.VerifyEd25519(tx.SenderPublicKey, SigningPayload(tx), tx.Signature) {
		return errs.New(errs.ErrAuthInvalid, "txn.VerifySignature", "invalid signature")
	}
	return nil
}
