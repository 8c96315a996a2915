package encryption

import (
	"bytes"
	"encoding/json"
)

// CanonicalJSON renders v with sorted object keys, no insignificant whitespace
// and without HTML escaping. Numbers keep their literal form, so the output is
// a fixed point: CanonicalJSON(parse(CanonicalJSON(v))) == CanonicalJSON(v).
//
// It is the only encoding used for anything that is hashed or signed.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, cryptoErr(CodeCanonical, err)
	}
	// Decode into generic values so struct field order is replaced by the
	// sorted key order encoding/json uses for maps
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, cryptoErr(CodeCanonical, err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, cryptoErr(CodeCanonical, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
