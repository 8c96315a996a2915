package encryption

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
)

// SignPSS signs SHA-256(message) with RSA-PSS and returns the base64 signature.
// The salt length is the library default (as long as the modulus allows).
func SignPSS(priv *rsa.PrivateKey, message []byte) (string, error) {
	if priv == nil {
		return "", cryptoErr(CodeKey, errors.New("nil private key"))
	}
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return "", cryptoErr(CodeSign, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPSS reports whether sigB64 is a valid RSA-PSS signature of message
func VerifyPSS(pub *rsa.PublicKey, message []byte, sigB64 string) bool {
	if pub == nil || sigB64 == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil) == nil
}

// SignCanonical signs the canonical JSON form of v
func SignCanonical(priv *rsa.PrivateKey, v any) (string, error) {
	msg, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SignPSS(priv, msg)
}

// VerifyCanonical checks a signature made by SignCanonical
func VerifyCanonical(pub *rsa.PublicKey, v any, sigB64 string) bool {
	msg, err := CanonicalJSON(v)
	if err != nil {
		return false
	}
	return VerifyPSS(pub, msg, sigB64)
}

func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", cryptoErr(CodeKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, cryptoErr(CodeKey, errors.New("no PEM block found"))
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, cryptoErr(CodeKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, cryptoErr(CodeKey, errors.New("not an RSA public key"))
	}
	return pub, nil
}

func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, cryptoErr(CodeKey, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, cryptoErr(CodeKey, errors.New("no PEM block found"))
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, cryptoErr(CodeKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, cryptoErr(CodeKey, errors.New("not an RSA private key"))
	}
	return priv, nil
}
