// Package fingerprint derives the stable identity of an embedding vector.
//
// A fingerprint is computed by quantizing each component to a 16-bit integer
// at a fixed decimal scale, serializing the quantized sequence in a
// length-prefixed little-endian encoding and hashing it with MD5. The first
// eight digest bytes, read as a signed little-endian integer, are folded to
// their absolute value so the result is usable as a non-negative BIGINT and
// as a point id in the index.
//
// Vectors that differ only below the quantization step collapse to the same
// fingerprint; this is the deduplication semantic. Hash collisions between
// genuinely different vectors are not detected and are treated as identity.
// Because the quantized value wraps at 16 bits, components that differ by a
// multiple of 0.65536 also collide.
package fingerprint

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Scale is the factor applied to every component before truncation.
const Scale = 1e5

// ErrInvalidVector is matched by every error returned for a vector that
// cannot be fingerprinted.
var ErrInvalidVector = errors.New("invalid vector")

// InvalidVectorError reports the first component that is NaN or infinite.
type InvalidVectorError struct {
	Position  int // index of the vector in a batch, -1 for a single vector
	Component int
	Value     float32
}

func (e *InvalidVectorError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("invalid vector %d: component %d is %v", e.Position, e.Component, e.Value)
	}
	return fmt.Sprintf("invalid vector: component %d is %v", e.Component, e.Value)
}

func (e *InvalidVectorError) Is(target error) bool { return target == ErrInvalidVector }

// Quantize maps every component to trunc(c*Scale) wrapped to int16.
func Quantize(v []float32) ([]int16, error) {
	out := make([]int16, len(v))
	for i, c := range v {
		x := float64(c)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &InvalidVectorError{Position: -1, Component: i, Value: c}
		}
		// Reduce before converting: float to int conversion of an
		// out-of-range value is implementation defined.
		t := math.Mod(math.Trunc(x*Scale), 1<<16)
		out[i] = int16(uint16(int64(t)))
	}
	return out, nil
}

// Encode serializes quantized components: uint32 count, then int16 values,
// all little-endian.
func Encode(q []int16) []byte {
	buf := make([]byte, 4+2*len(q))
	binary.LittleEndian.PutUint32(buf, uint32(len(q)))
	for i, c := range q {
		binary.LittleEndian.PutUint16(buf[4+2*i:], uint16(c))
	}
	return buf
}

// Of returns the fingerprint of v.
func Of(v []float32) (uint64, error) {
	q, err := Quantize(v)
	if err != nil {
		return 0, err
	}
	return digest(Encode(q)), nil
}

// All fingerprints every vector, failing on the first invalid one.
func All(vectors [][]float32) ([]uint64, error) {
	fps := make([]uint64, len(vectors))
	for i, v := range vectors {
		fp, err := Of(v)
		if err != nil {
			var ive *InvalidVectorError
			if errors.As(err, &ive) {
				ive.Position = i
			}
			return nil, err
		}
		fps[i] = fp
	}
	return fps, nil
}

func digest(b []byte) uint64 {
	sum := md5.Sum(b)
	v := int64(binary.LittleEndian.Uint64(sum[:8]))
	switch {
	case v == math.MinInt64:
		return math.MaxInt64
	case v < 0:
		return uint64(-v)
	default:
		return uint64(v)
	}
}
