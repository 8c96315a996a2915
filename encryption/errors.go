package encryption

import "fmt"

// Short codes carried by CryptoError
const (
	CodeCanonical     = "canonical_json"
	CodeSign          = "sign"
	CodeKey           = "bad_key"
	CodeCiphertext    = "bad_ciphertext"
	CodePlaintext     = "bad_plaintext"
	CodeAuthTag       = "auth_tag"
	CodeRandomness    = "randomness"
	CodeKeyGeneration = "keygen"
)

// CryptoError is returned by every primitive in this package. Callers treat it
// as fatal for the current request and never retry.
type CryptoError struct {
	Code string
	Err  error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return "crypto: " + e.Code
	}
	return fmt.Sprintf("crypto: %s: %v", e.Code, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func cryptoErr(code string, err error) *CryptoError {
	return &CryptoError{Code: code, Err: err}
}
