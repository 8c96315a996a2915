package encryption

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the lowercase hex digest of data
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VoteHash commits to a ballot ciphertext without revealing it:
// hex(SHA-256(ciphertext || salt)), both taken as their UTF-8 text
func VoteHash(ciphertext, salt string) string {
	return SHA256Hex([]byte(ciphertext + salt))
}
