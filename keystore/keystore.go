// Package keystore owns the process's private key material. The receipt RSA
// key, the Paillier key and the biometric template key never leave it; callers
// get signing, decryption and sealing methods instead.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/sruthiidv/BallotGuard-sub000/encryption"
)

const (
	// BiometricKeySalt is fixed per deployment format, not per secret
	BiometricKeySalt       = "ballotguard/biometric/v1"
	BiometricKeyIterations = 100_000
	biometricKeyLen        = 32

	MinProductionKeyBits = 3072
)

// PublicParameters is everything a client or auditor needs to encrypt ballots
// and check signatures
type PublicParameters struct {
	RSAPubPEM string `json:"rsa_pub_pem"`
	PaillierN string `json:"paillier_n"`
}

type KeyStore struct {
	signer       *rsa.PrivateKey
	paillier     *encryption.PaillierAdapter
	biometricKey []byte
	params       PublicParameters
}

// DeriveBiometricKey is PBKDF2-HMAC-SHA256 over the server secret
func DeriveBiometricKey(secret string) []byte {
	return pbkdf2.Key(
		[]byte(secret),
		[]byte(BiometricKeySalt),
		BiometricKeyIterations,
		biometricKeyLen,
		sha256.New,
	)
}

// New assembles a KeyStore from already loaded keys
func New(signer *rsa.PrivateKey, pk *encryption.PaillierAdapter, secret string) (*KeyStore, error) {
	if signer == nil || pk == nil {
		return nil, errors.New("keystore: missing key")
	}
	if !pk.HasPrivateKey() {
		return nil, errors.New("keystore: Paillier key has no private part")
	}
	if secret == "" {
		return nil, errors.New("keystore: biometric secret is empty")
	}
	pubPEM, err := encryption.MarshalPublicKeyPEM(&signer.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return &KeyStore{
		signer:       signer,
		paillier:     pk,
		biometricKey: DeriveBiometricKey(secret),
		params: PublicParameters{
			RSAPubPEM: pubPEM,
			PaillierN: pk.N().String(),
		},
	}, nil
}

// Generate creates fresh in-memory keys
func Generate(rsaBits, paillierBits int, secret string) (*KeyStore, error) {
	signer, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	pk, err := encryption.GeneratePaillierKey(paillierBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Paillier key: %w", err)
	}
	return New(signer, pk, secret)
}

// LoadOrGenerate loads receipt_key.pem and paillier_key.json from dir. Missing
// keys are generated and written with mode 0600. An existing key smaller than
// the requested size is an error, never silently replaced.
func LoadOrGenerate(dir string, rsaBits, paillierBits int, secret string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "keystore")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	signer, err := loadOrGenerateRSA(filepath.Join(dir, receiptKeyFile), rsaBits, logger)
	if err != nil {
		return nil, err
	}
	pk, err := loadOrGeneratePaillier(filepath.Join(dir, paillierKeyFile), paillierBits, logger)
	if err != nil {
		return nil, err
	}
	return New(signer, pk, secret)
}

// Load reads existing keys from dir and never writes. A missing key file
// is reported as fs.ErrNotExist.
func Load(dir string, rsaBits, paillierBits int, secret string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger = logger.With("component", "keystore")

	path := filepath.Join(dir, receiptKeyFile)
	data, err := readKeyFile(path)
	if err != nil {
		return nil, missingKey("receipt key", path, err)
	}
	signer, err := parseRSAKey(path, data, rsaBits, logger)
	if err != nil {
		return nil, err
	}
	path = filepath.Join(dir, paillierKeyFile)
	if data, err = readKeyFile(path); err != nil {
		return nil, missingKey("Paillier key", path, err)
	}
	pk, err := parsePaillierKey(path, data, paillierBits, logger)
	if err != nil {
		return nil, err
	}
	return New(signer, pk, secret)
}

func missingKey(what, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %q not found, run keygen first: %w", what, path, err)
	}
	return err
}

func parseRSAKey(path string, data []byte, bits int, logger *slog.Logger) (*rsa.PrivateKey, error) {
	key, err := encryption.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt key %q: %w", path, err)
	}
	if key.N.BitLen() < bits {
		return nil, fmt.Errorf("receipt key %q is %d bits, want at least %d", path, key.N.BitLen(), bits)
	}
	logger.Info("loaded receipt signing key", "path", path, "bits", key.N.BitLen())
	return key, nil
}

func parsePaillierKey(path string, data []byte, bits int, logger *slog.Logger) (*encryption.PaillierAdapter, error) {
	key, err := encryption.UnmarshalPaillierKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Paillier key %q: %w", path, err)
	}
	if key.KeySize() < bits {
		return nil, fmt.Errorf("Paillier key %q is %d bits, want at least %d", path, key.KeySize(), bits)
	}
	logger.Info("loaded Paillier key", "path", path, "bits", key.KeySize())
	return key, nil
}

func loadOrGenerateRSA(path string, bits int, logger *slog.Logger) (*rsa.PrivateKey, error) {
	data, err := readKeyFile(path)
	switch {
	case err == nil:
		return parseRSAKey(path, data, bits, logger)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	logger.Info("generating receipt signing key", "path", path, "bits", bits)
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	pemBytes, err := encryption.MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	if err := writeKeyFile(path, pemBytes); err != nil {
		return nil, err
	}
	return key, nil
}

func loadOrGeneratePaillier(path string, bits int, logger *slog.Logger) (*encryption.PaillierAdapter, error) {
	data, err := readKeyFile(path)
	switch {
	case err == nil:
		return parsePaillierKey(path, data, bits, logger)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	logger.Info("generating Paillier key", "path", path, "bits", bits)
	key, err := encryption.GeneratePaillierKey(bits)
	if err != nil {
		return nil, err
	}
	data, err = encryption.MarshalPaillierKey(key)
	if err != nil {
		return nil, err
	}
	if err := writeKeyFile(path, data); err != nil {
		return nil, err
	}
	return key, nil
}

func (k *KeyStore) PublicParameters() PublicParameters {
	return k.params
}

// PublicKey is the receipt/block verification key
func (k *KeyStore) PublicKey() *rsa.PublicKey {
	return &k.signer.PublicKey
}

// Paillier returns an encrypt-and-add view of the tally key
func (k *KeyStore) Paillier() *encryption.PaillierAdapter {
	return encryption.NewPaillierPublicAdapter(k.paillier.N())
}

// SignCanonical signs the canonical JSON of v with RSA-PSS
func (k *KeyStore) SignCanonical(v any) (string, error) {
	return encryption.SignCanonical(k.signer, v)
}

func (k *KeyStore) VerifyCanonical(v any, sig string) bool {
	return encryption.VerifyCanonical(&k.signer.PublicKey, v, sig)
}

// Decrypt is the single tally decryption path
func (k *KeyStore) Decrypt(c *big.Int) (*big.Int, error) {
	return k.paillier.Decrypt(c)
}

// SealTemplate encrypts a face template for storage at rest
func (k *KeyStore) SealTemplate(template []float64) ([]byte, error) {
	return encryption.SealGCM(k.biometricKey, encodeTemplate(template))
}

func (k *KeyStore) OpenTemplate(blob []byte) ([]float64, error) {
	raw, err := encryption.OpenGCM(k.biometricKey, blob)
	if err != nil {
		return nil, err
	}
	return decodeTemplate(raw)
}
