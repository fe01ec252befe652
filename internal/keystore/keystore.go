// Package keystore stores the validator identity at rest: an
// Argon2id-derived key wraps the secret material in AES-256-GCM, the
// file carries its KDF parameters explicitly, and decryption refuses
// parameters below the enforced minimum so a downgraded file cannot
// silently weaken the protection.
package keystore

import (
	crand "crypto/rand"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/errs"
)

// FileVersion is the current keystore format version.
const FileVersion = 1

// Default KDF parameters used at creation. Decrypt enforces the minima
// in cryptoprims.CheckKDFParams; iterations and memory sit exactly at
// those minima.
const (
	DefaultIterations  uint32 = 3
	DefaultMemoryKiB   uint32 = 64 * 1024
	DefaultParallelism uint8  = 4
)

// KDFParams records how the file's key was derived.
type KDFParams struct {
	Iterations  uint32 `json:"iterations"`
	MemoryKiB   uint32 `json:"memory_kib"`
	Parallelism uint8  `json:"parallelism"`
}

// File is the on-disk keystore record. Binary fields are base64.
type File struct {
	Version    int       `json:"version"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
	KDF        KDFParams `json:"kdf"`
}

// Identity bundles the two private keys a validator runs with.
type Identity struct {
	Ed25519Public  cryptoprims.Ed25519PublicKey
	Ed25519Private cryptoprims.Ed25519PrivateKey
	BLSPrivate     cryptoprims.BLSPrivateKey
}

// secretLen is ed25519 private key (64) + BLS scalar (32).
const secretLen = 64 + 32

// Save encrypts identity under password and writes it to path with
// owner-only permissions.
func Save(path string, password []byte, id Identity) error {
	secret := make([]byte, secretLen)
	copy(secret[:64], id.Ed25519Private[:])
	bls := id.BLSPrivate.Bytes()
	copy(secret[64:], bls[:])
	defer cryptoprims.Zeroize(secret)
	defer cryptoprims.Zeroize(bls[:])

	salt := make([]byte, 32)
	if _, err := crand.Read(salt); err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	nonce := make([]byte, 12)
	if _, err := crand.Read(nonce); err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}

	params := KDFParams{Iterations: DefaultIterations, MemoryKiB: DefaultMemoryKiB, Parallelism: DefaultParallelism}
	key := cryptoprims.Argon2idKDF(password, salt, params.Iterations, params.MemoryKiB, params.Parallelism)
	defer cryptoprims.Zeroize(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	ciphertext := gcm.Seal(nil, nonce, secret, nil)

	f := File{
		Version:    FileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		KDF:        params,
	}
	raw, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	// WriteFile only applies the mode on creation; make sure a
	// pre-existing file ends up owner-only too.
	if err := os.Chmod(path, 0o600); err != nil {
		return errs.Wrap(errs.ErrInternal, "keystore.Save", err)
	}
	return nil
}

// Load decrypts the keystore at path. It validates the version and
// refuses KDF parameters below the enforced minimum before deriving
// anything.
func Load(path string, password []byte) (Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, errs.Wrap(errs.ErrInternal, "keystore.Load", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return Identity{}, errs.Wrap(errs.ErrInputMalformed, "keystore.Load", err)
	}
	if f.Version != FileVersion {
		return Identity{}, errs.New(errs.ErrInputMalformed, "keystore.Load", "unsupported keystore version")
	}
	if err := cryptoprims.CheckKDFParams(f.KDF.Iterations, f.KDF.MemoryKiB, f.KDF.Parallelism); err != nil {
		return Identity{}, errs.Wrap(errs.ErrInputInvalid, "keystore.Load", err)
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil || len(salt) != 32 {
		return Identity{}, errs.New(errs.ErrInputMalformed, "keystore.Load", "bad salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil || len(nonce) != 12 {
		return Identity{}, errs.New(errs.ErrInputMalformed, "keystore.Load", "bad nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return Identity{}, errs.New(errs.ErrInputMalformed, "keystore.Load", "bad ciphertext")
	}

	key := cryptoprims.Argon2idKDF(password, salt, f.KDF.Iterations, f.KDF.MemoryKiB, f.KDF.Parallelism)
	defer cryptoprims.Zeroize(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Identity{}, errs.Wrap(errs.ErrInternal, "keystore.Load", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Identity{}, errs.Wrap(errs.ErrInternal, "keystore.Load", err)
	}
	secret, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Identity{}, errs.New(errs.ErrAuthInvalid, "keystore.Load", "decryption failed")
	}
	defer cryptoprims.Zeroize(secret)
	if len(secret) != secretLen {
		return Identity{}, errs.New(errs.ErrInputMalformed, "keystore.Load", "unexpected secret length")
	}

	var id Identity
	copy(id.Ed25519Private[:], secret[:64])
	copy(id.Ed25519Public[:], secret[32:64]) // ed25519 private key embeds the public half
	var blsBytes [32]byte
	copy(blsBytes[:], secret[64:])
	id.BLSPrivate = cryptoprims.BLSPrivateKeyFromBytes(blsBytes)
	cryptoprims.Zeroize(blsBytes[:])
	return id, nil
}

// Generate creates a fresh validator identity.
func Generate() (Identity, error) {
	edPub, edPriv, err := cryptoprims.GenerateEd25519()
	if err != nil {
		return Identity{}, err
	}
	_, blsPriv, err := cryptoprims.GenerateBLS()
	if err != nil {
		return Identity{}, err
	}
	return Identity{Ed25519Public: edPub, Ed25519Private: edPriv, BLSPrivate: blsPriv}, nil
}
