package fingerprint

import (
	"errors"
	"math"
	"testing"
)

func TestQuantize(t *testing.T) {
	q, err := Quantize([]float32{0.125, -0.25, 0, 0.0000099})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{12500, -25000, 0, 0}
	for i := range want {
		if q[i] != want[i] {
			t.Errorf("component %d: got %d, want %d", i, q[i], want[i])
		}
	}
}

func TestQuantizeWrapsToSixteenBits(t *testing.T) {
	// 1.0 * 1e5 = 100000, which wraps to 100000 - 65536 = 34464, i.e. -31072 as int16.
	q, err := Quantize([]float32{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q[0] != -31072 {
		t.Fatalf("expected -31072, got %d", q[0])
	}
}

func TestQuantizeRejectsNonFinite(t *testing.T) {
	cases := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))}
	for _, c := range cases {
		_, err := Quantize([]float32{0.5, c})
		if !errors.Is(err, ErrInvalidVector) {
			t.Fatalf("value %v: expected ErrInvalidVector, got %v", c, err)
		}
		var ive *InvalidVectorError
		if !errors.As(err, &ive) || ive.Component != 1 {
			t.Fatalf("value %v: expected component 1 in error, got %v", c, err)
		}
	}
}

func TestEncodeIsLengthPrefixed(t *testing.T) {
	b := Encode([]int16{1, -1})
	want := []byte{2, 0, 0, 0, 1, 0, 0xff, 0xff}
	if len(b) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(b))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, b[i], want[i])
		}
	}
}

func TestOfDeterminism(t *testing.T) {
	v := []float32{0.5, -0.25, 0.125, 0.0625}
	a, err := Of(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := Of(append([]float32(nil), v...))
	if a != b {
		t.Fatalf("fingerprints should be deterministic: %d != %d", a, b)
	}
	if a > math.MaxInt64 {
		t.Fatalf("fingerprint %d does not fit a signed 64-bit id", a)
	}
}

func TestOfCollapsesSubThresholdNoise(t *testing.T) {
	base := []float32{0.5, -0.25, 0.125, 0.0625}
	noisy := []float32{0.500001, -0.250001, 0.125003, 0.062504}

	a, _ := Of(base)
	b, err := Of(noisy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Fatalf("vectors differing below the quantization step should share a fingerprint")
	}
}

func TestOfSeparatesDistinctVectors(t *testing.T) {
	vectors := [][]float32{
		{0.5, -0.25, 0.125},
		{0.5, -0.25, 0.126},
		{-0.5, -0.25, 0.125},
		{0.5, -0.25},
		{0.25, 0.25, 0.25},
		{1, 0, 0},
		{0, 1, 0},
	}
	seen := map[uint64]int{}
	for i, v := range vectors {
		fp, err := Of(v)
		if err != nil {
			t.Fatalf("vector %d: unexpected error: %v", i, err)
		}
		if j, ok := seen[fp]; ok {
			t.Fatalf("vectors %d and %d share fingerprint %d", j, i, fp)
		}
		seen[fp] = i
	}
}

func TestOfLengthMatters(t *testing.T) {
	// Same quantized prefix, different length.
	a, _ := Of([]float32{0, 0})
	b, _ := Of([]float32{0, 0, 0})
	if a == b {
		t.Fatal("vectors of different length should not share a fingerprint")
	}
}

func TestAllReportsPosition(t *testing.T) {
	_, err := All([][]float32{{0.1}, {float32(math.NaN())}})
	var ive *InvalidVectorError
	if !errors.As(err, &ive) {
		t.Fatalf("expected InvalidVectorError, got %v", err)
	}
	if ive.Position != 1 {
		t.Errorf("expected position 1, got %d", ive.Position)
	}
}

func TestAllKeepsOrder(t *testing.T) {
	vs := [][]float32{{0.1, 0.2}, {0.3, 0.4}, {0.1, 0.2}}
	fps, err := All(vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fps[0] != fps[2] || fps[0] == fps[1] {
		t.Fatalf("unexpected fingerprints: %v", fps)
	}
	for i, v := range vs {
		fp, _ := Of(v)
		if fps[i] != fp {
			t.Errorf("vector %d: All=%d Of=%d", i, fps[i], fp)
		}
	}
}
