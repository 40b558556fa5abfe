package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/CTAG07/Logogen/pkg/markov"
)

const float64Size = 8

// encodeVector writes v as AlphabetSize little-endian float64 values.
func encodeVector(v *markov.Vector) []byte {
	buf := make([]byte, 0, len(v)*float64Size)
	for _, p := range v {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p))
	}
	return buf
}

// encodeMatrix writes m row by row.
func encodeMatrix(m *markov.Matrix) []byte {
	buf := make([]byte, 0, len(m)*len(m[0])*float64Size)
	for i := range m {
		buf = append(buf, encodeVector(&m[i])...)
	}
	return buf
}

func decodeVector(data []byte, dst *markov.Vector) error {
	if len(data) != len(dst)*float64Size {
		return fmt.Errorf("%w: %d bytes for a vector", markov.ErrBadShape, len(data))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*float64Size:]))
	}
	return nil
}

func decodeMatrix(data []byte, dst *markov.Matrix) error {
	rowSize := len(dst[0]) * float64Size
	if len(data) != len(dst)*rowSize {
		return fmt.Errorf("%w: %d bytes for a matrix", markov.ErrBadShape, len(data))
	}
	for i := range dst {
		if err := decodeVector(data[i*rowSize:(i+1)*rowSize], &dst[i]); err != nil {
			return err
		}
	}
	return nil
}
