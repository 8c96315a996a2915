package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaillier(t *testing.T) *PaillierAdapter {
	t.Helper()
	key, err := GeneratePaillierKey(512)
	require.NoError(t, err)
	return key
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	type header struct {
		Index        uint64 `json:"index"`
		Timestamp    string `json:"timestamp"`
		VoteHash     string `json:"vote_hash"`
		PreviousHash string `json:"previous_hash"`
	}
	out, err := CanonicalJSON(header{
		Index:        1,
		Timestamp:    "2025-01-02T03:04:05.000000Z",
		VoteHash:     "ab",
		PreviousHash: "cd",
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"index":1,"previous_hash":"cd","timestamp":"2025-01-02T03:04:05.000000Z","vote_hash":"ab"}`,
		string(out),
	)
}

func TestCanonicalJSONFixedPoint(t *testing.T) {
	tests := []any{
		map[string]any{"b": 1, "a": []any{"x", 2.5, nil}, "c": map[string]any{"z": true, "y": "<&>"}},
		[]int{3, 2, 1},
		"plain",
		map[string]any{"big": json.Number("123456789012345678901234567890")},
	}
	for _, v := range tests {
		first, err := CanonicalJSON(v)
		require.NoError(t, err)
		var parsed any
		require.NoError(t, json.Unmarshal(first, &parsed))
		second, err := CanonicalJSON(json.RawMessage(first))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}

func TestCanonicalJSONNoHTMLEscape(t *testing.T) {
	out, err := CanonicalJSON(map[string]string{"name": "A & B <c>"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A & B <c>"}`, string(out))
}

func TestVoteHash(t *testing.T) {
	assert.Equal(t, SHA256Hex([]byte("42f00dbabe")), VoteHash("42", "f00dbabe"))
	assert.Len(t, VoteHash("42", "f00dbabe"), 64)
	assert.NotEqual(t, VoteHash("42", "aa"), VoteHash("42", "bb"))
}

func TestPSSSignVerify(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	msg := []byte(`{"vote_id":"v-1"}`)

	sig, err := SignPSS(priv, msg)
	require.NoError(t, err)
	assert.True(t, VerifyPSS(&priv.PublicKey, msg, sig))
	assert.False(t, VerifyPSS(&priv.PublicKey, []byte(`{"vote_id":"v-2"}`), sig))
	assert.False(t, VerifyPSS(&priv.PublicKey, msg, "not base64!"))
	assert.False(t, VerifyPSS(&priv.PublicKey, msg, ""))

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	assert.False(t, VerifyPSS(&other.PublicKey, msg, sig))
}

func TestSignCanonicalIgnoresFieldOrder(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	sig, err := SignCanonical(priv, map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	type ab struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	assert.True(t, VerifyCanonical(&priv.PublicKey, ab{B: "x", A: 1}, sig))
}

func TestKeyPEMRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	privPEM, err := MarshalPrivateKeyPEM(priv)
	require.NoError(t, err)
	parsed, err := ParsePrivateKeyPEM(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(parsed))

	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)
	pub, err := ParsePublicKeyPEM([]byte(pubPEM))
	require.NoError(t, err)
	assert.True(t, priv.PublicKey.Equal(pub))

	_, err = ParsePublicKeyPEM([]byte("garbage"))
	var cerr *CryptoError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeKey, cerr.Code)
}

func TestPaillierRoundTrip(t *testing.T) {
	key := testPaillier(t)
	n := key.N()
	for _, m := range []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(42),
		new(big.Int).Sub(n, big.NewInt(1)),
	} {
		c, err := key.Encrypt(m)
		require.NoError(t, err)
		require.NoError(t, key.ValidCiphertext(c))
		got, err := key.Decrypt(c)
		require.NoError(t, err)
		assert.Equal(t, 0, m.Cmp(got), "m=%s", m)
	}
}

func TestPaillierHomomorphicAdd(t *testing.T) {
	key := testPaillier(t)
	acc, err := key.Encrypt(big.NewInt(0))
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		c, err := key.Encrypt(big.NewInt(1))
		require.NoError(t, err)
		acc, err = key.Add(acc, c)
		require.NoError(t, err)
	}
	total, err := key.Decrypt(acc)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total.Int64())

	a, _ := key.Encrypt(big.NewInt(17))
	b, _ := key.Encrypt(big.NewInt(25))
	sum, err := key.Add(a, b)
	require.NoError(t, err)
	got, err := key.Decrypt(sum)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int64())
}

func TestPaillierRejectsBadInput(t *testing.T) {
	key := testPaillier(t)
	n := key.N()
	nsq := new(big.Int).Mul(n, n)

	_, err := key.Encrypt(n)
	assert.Error(t, err)
	_, err = key.Encrypt(big.NewInt(-1))
	assert.Error(t, err)

	for _, c := range []*big.Int{big.NewInt(0), nsq, n, new(big.Int).Mul(n, big.NewInt(2))} {
		err := key.ValidCiphertext(c)
		var cerr *CryptoError
		require.ErrorAs(t, err, &cerr, "c=%s", c)
		assert.Equal(t, CodeCiphertext, cerr.Code)
	}
	assert.NoError(t, key.ValidCiphertext(big.NewInt(42)))
}

func TestPaillierKeyMarshal(t *testing.T) {
	key := testPaillier(t)
	data, err := MarshalPaillierKey(key)
	require.NoError(t, err)
	restored, err := UnmarshalPaillierKey(data)
	require.NoError(t, err)
	assert.Equal(t, 0, key.N().Cmp(restored.N()))

	c, err := key.Encrypt(big.NewInt(7))
	require.NoError(t, err)
	m, err := restored.Decrypt(c)
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Int64())

	pub := NewPaillierPublicAdapter(key.N())
	assert.False(t, pub.HasPrivateKey())
	_, err = pub.Decrypt(c)
	assert.Error(t, err)
	_, err = MarshalPaillierKey(pub)
	assert.Error(t, err)
}

func TestParseCiphertext(t *testing.T) {
	c, err := ParseCiphertext("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.Int64())
	for _, s := range []string{"", "0x2a", "4.2", "abc"} {
		_, err := ParseCiphertext(s)
		assert.Error(t, err, s)
	}
}

func TestGCMSealOpen(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	blob, err := SealGCM(key, []byte("template"))
	require.NoError(t, err)
	pt, err := OpenGCM(key, blob)
	require.NoError(t, err)
	assert.Equal(t, "template", string(pt))

	for _, i := range []int{0, 12, len(blob) - 1} {
		tampered := append([]byte(nil), blob...)
		tampered[i] ^= 0x01
		_, err := OpenGCM(key, tampered)
		var cerr *CryptoError
		require.True(t, errors.As(err, &cerr), "byte %d", i)
		assert.Equal(t, CodeAuthTag, cerr.Code)
	}

	_, err = OpenGCM(key, blob[:10])
	assert.Error(t, err)
	_, err = SealGCM(key[:16], []byte("x"))
	assert.Error(t, err)
}
