package keystore

import (
	"encoding/binary"
	"errors"
	"math"
)

// Templates are sealed as little-endian float64s

func encodeTemplate(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func decodeTemplate(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, errors.New("keystore: template length is not a multiple of 8")
	}
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v, nil
}
