package cryptoprims

import "golang.org/x/crypto/argon2"

// MinKDFIterations and MinKDFMemoryKiB are the minimum Argon2id
// parameters keystore decryption will accept, preventing a tampered
// low-cost keystore file from being decrypted quickly offline.
const (
	MinKDFIterations  = 3
	MinKDFMemoryKiB   = 64 * 1024
	MinKDFParallelism = 1
)

// Argon2idKDF derives a 32-byte key from password and salt.
func Argon2idKDF(password, salt []byte, iterations, memoryKiB uint32, parallelism uint8) [32]byte {
	var out [32]byte
	copy(out[:], argon2.IDKey(password, salt, iterations, memoryKiB, parallelism, 32))
	return out
}

// CheckKDFParams validates that the parameters meet the minimum bar
// before a keystore is decrypted with them.
func CheckKDFParams(iterations, memoryKiB uint32, parallelism uint8) error {
	if iterations < MinKDFIterations || memoryKiB < MinKDFMemoryKiB || parallelism < MinKDFParallelism {
		return ErrBadKeystoreParameters
	}
	return nil
}

// ErrBadKeystoreParameters is returned when a keystore's KDF parameters
// fall below the enforced minimum.
var ErrBadKeystoreParameters = errBadParams{}

type errBadParams struct{}

func (errBadParams) Error() string { return "cryptoprims: keystore KDF parameters below minimum" }
