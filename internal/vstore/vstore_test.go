package vstore

import (
	"math"
	"testing"
)

func TestEncodeDecodeVectorRoundTrips(t *testing.T) {
	in := []float32{1.5, -2.25, 0, math.MaxFloat32, -1}
	buf := encodeVector(in)
	if len(buf) != 4*len(in) {
		t.Fatalf("expected %d bytes, got %d", 4*len(in), len(buf))
	}

	out, err := decodeVector(buf)
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d floats, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestDecodeVectorRejectsMisalignedInput(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for byte length not a multiple of 4")
	}
}
