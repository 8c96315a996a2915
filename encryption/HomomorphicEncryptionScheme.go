package encryption

import "math/big"

// HomomorphicEncryptionScheme is the additive scheme ballots are encrypted
// under. Ciphertexts are plain integers; on the wire they are decimal strings.
type HomomorphicEncryptionScheme interface {
	// Identity information
	Name() string
	KeySize() int

	// Core operations
	Encrypt(value *big.Int) (*big.Int, error)
	Decrypt(ciphertext *big.Int) (*big.Int, error)
	Add(ciphertext1, ciphertext2 *big.Int) (*big.Int, error)

	// ValidCiphertext rejects integers that cannot be ciphertexts under the key
	ValidCiphertext(ciphertext *big.Int) error
}
