package encryption

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/roasbeef/go-go-gadget-paillier"
)

var one = big.NewInt(1)

var _ HomomorphicEncryptionScheme = (*PaillierAdapter)(nil)

// PaillierAdapter adapts the go-go-gadget-paillier public operations to the
// HomomorphicEncryptionScheme interface. The library keeps its private key
// fields unexported, so the adapter holds the primes itself and performs
// decryption with lambda = (p-1)(q-1), mu = lambda^-1 mod n, which matches
// the library's g = n+1 encryption.
type PaillierAdapter struct {
	keySize   int
	publicKey *paillier.PublicKey

	// nil for public-only adapters
	p, q   *big.Int
	lambda *big.Int
	mu     *big.Int
}

type paillierKeyFile struct {
	P string `json:"p"`
	Q string `json:"q"`
}

func newPaillierPublicKey(n *big.Int) *paillier.PublicKey {
	return &paillier.PublicKey{
		N:        new(big.Int).Set(n),
		G:        new(big.Int).Add(n, one),
		NSquared: new(big.Int).Mul(n, n),
	}
}

// GeneratePaillierKey creates a fresh keypair with a modulus of the given size
func GeneratePaillierKey(bits int) (*PaillierAdapter, error) {
	if bits < 256 || bits%2 != 0 {
		return nil, cryptoErr(CodeKeyGeneration, fmt.Errorf("unsupported Paillier key size %d", bits))
	}
	for {
		p, err := rand.Prime(rand.Reader, bits/2)
		if err != nil {
			return nil, cryptoErr(CodeKeyGeneration, err)
		}
		q, err := rand.Prime(rand.Reader, bits/2)
		if err != nil {
			return nil, cryptoErr(CodeKeyGeneration, err)
		}
		if p.Cmp(q) == 0 {
			continue
		}
		adapter, err := NewPaillierAdapter(p, q)
		if err != nil {
			// gcd(n, phi(n)) != 1, draw again
			continue
		}
		return adapter, nil
	}
}

// NewPaillierAdapter rebuilds a private adapter from its primes
func NewPaillierAdapter(p, q *big.Int) (*PaillierAdapter, error) {
	if p == nil || q == nil || p.Sign() <= 0 || q.Sign() <= 0 || p.Cmp(q) == 0 {
		return nil, cryptoErr(CodeKey, errors.New("invalid Paillier primes"))
	}
	n := new(big.Int).Mul(p, q)
	lambda := new(big.Int).Mul(
		new(big.Int).Sub(p, one),
		new(big.Int).Sub(q, one),
	)
	if new(big.Int).GCD(nil, nil, n, lambda).Cmp(one) != 0 {
		return nil, cryptoErr(CodeKey, errors.New("gcd(n, lambda) != 1"))
	}
	mu := new(big.Int).ModInverse(lambda, n)
	if mu == nil {
		return nil, cryptoErr(CodeKey, errors.New("lambda not invertible mod n"))
	}
	return &PaillierAdapter{
		keySize:   n.BitLen(),
		publicKey: newPaillierPublicKey(n),
		p:         new(big.Int).Set(p),
		q:         new(big.Int).Set(q),
		lambda:    lambda,
		mu:        mu,
	}, nil
}

// NewPaillierPublicAdapter can encrypt and add but not decrypt
func NewPaillierPublicAdapter(n *big.Int) *PaillierAdapter {
	return &PaillierAdapter{
		keySize:   n.BitLen(),
		publicKey: newPaillierPublicKey(n),
	}
}

// MarshalPaillierKey serializes the primes for storage at rest
func MarshalPaillierKey(a *PaillierAdapter) ([]byte, error) {
	if !a.HasPrivateKey() {
		return nil, cryptoErr(CodeKey, errors.New("no private key to marshal"))
	}
	return json.MarshalIndent(paillierKeyFile{
		P: a.p.String(),
		Q: a.q.String(),
	}, "", "  ")
}

func UnmarshalPaillierKey(data []byte) (*PaillierAdapter, error) {
	var f paillierKeyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, cryptoErr(CodeKey, fmt.Errorf("failed to parse Paillier key: %w", err))
	}
	p, okP := new(big.Int).SetString(f.P, 10)
	q, okQ := new(big.Int).SetString(f.Q, 10)
	if !okP || !okQ {
		return nil, cryptoErr(CodeKey, errors.New("Paillier primes are not decimal integers"))
	}
	return NewPaillierAdapter(p, q)
}

// Name returns the name of the encryption scheme
func (p *PaillierAdapter) Name() string {
	return fmt.Sprintf("Paillier-%d", p.keySize)
}

// KeySize returns the modulus size in bits
func (p *PaillierAdapter) KeySize() int {
	return p.keySize
}

// N returns a copy of the public modulus
func (p *PaillierAdapter) N() *big.Int {
	return new(big.Int).Set(p.publicKey.N)
}

func (p *PaillierAdapter) HasPrivateKey() bool {
	return p.lambda != nil
}

// Encrypt encrypts 0 <= value < n
func (p *PaillierAdapter) Encrypt(value *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, cryptoErr(CodePlaintext, errors.New("plaintext must be a non-negative integer"))
	}
	if value.Cmp(p.publicKey.N) >= 0 {
		return nil, cryptoErr(CodePlaintext, paillier.ErrMessageTooLong)
	}
	ct, err := paillier.Encrypt(p.publicKey, value.Bytes())
	if err != nil {
		return nil, cryptoErr(CodePlaintext, err)
	}
	return new(big.Int).SetBytes(ct), nil
}

// Decrypt decrypts a ciphertext back to its big.Int value
func (p *PaillierAdapter) Decrypt(ciphertext *big.Int) (*big.Int, error) {
	if !p.HasPrivateKey() {
		return nil, cryptoErr(CodeKey, errors.New("private key not set"))
	}
	if err := p.ValidCiphertext(ciphertext); err != nil {
		return nil, err
	}
	nsq := p.publicKey.NSquared
	n := p.publicKey.N
	// m = L(c^lambda mod n^2) * mu mod n, L(x) = (x-1)/n
	x := new(big.Int).Exp(ciphertext, p.lambda, nsq)
	l := new(big.Int).Div(new(big.Int).Sub(x, one), n)
	m := new(big.Int).Mul(l, p.mu)
	return m.Mod(m, n), nil
}

// Add performs homomorphic addition of two ciphertexts
func (p *PaillierAdapter) Add(ciphertext1, ciphertext2 *big.Int) (*big.Int, error) {
	if err := p.ValidCiphertext(ciphertext1); err != nil {
		return nil, err
	}
	if err := p.ValidCiphertext(ciphertext2); err != nil {
		return nil, err
	}
	sum := paillier.AddCipher(p.publicKey, ciphertext1.Bytes(), ciphertext2.Bytes())
	return new(big.Int).SetBytes(sum), nil
}

// ValidCiphertext accepts 0 < c < n^2 with gcd(c, n) = 1
func (p *PaillierAdapter) ValidCiphertext(c *big.Int) error {
	if c == nil || c.Sign() <= 0 {
		return cryptoErr(CodeCiphertext, errors.New("ciphertext must be a positive integer"))
	}
	if c.Cmp(p.publicKey.NSquared) >= 0 {
		return cryptoErr(CodeCiphertext, errors.New("ciphertext out of range"))
	}
	if new(big.Int).GCD(nil, nil, c, p.publicKey.N).Cmp(one) != 0 {
		return cryptoErr(CodeCiphertext, errors.New("ciphertext shares a factor with n"))
	}
	return nil
}

// ParseCiphertext reads the decimal wire form of a ciphertext
func ParseCiphertext(s string) (*big.Int, error) {
	if s == "" {
		return nil, cryptoErr(CodeCiphertext, errors.New("empty ciphertext"))
	}
	c, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, cryptoErr(CodeCiphertext, errors.New("ciphertext is not a decimal integer"))
	}
	return c, nil
}
