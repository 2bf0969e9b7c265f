package fieldstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Blobs are little-endian float64 runs; a complex value is its real part
// followed by its imaginary part.

func encodeComplex(data []complex128) []byte {
	buf := make([]byte, 16*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[16*i:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(buf[16*i+8:], math.Float64bits(imag(v)))
	}
	return buf
}

func decodeComplex(buf []byte, dst []complex128) error {
	if len(buf) != 16*len(dst) {
		return fmt.Errorf("complex blob has %d bytes, want %d", len(buf), 16*len(dst))
	}
	for i := range dst {
		re := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i+8:]))
		dst[i] = complex(re, im)
	}
	return nil
}

func encodeFloat(data []float64) []byte {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeFloat(buf []byte, dst []float64) error {
	if len(buf) != 8*len(dst) {
		return fmt.Errorf("float blob has %d bytes, want %d", len(buf), 8*len(dst))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("bad shape %q", s)
		}
		shape[i] = d
	}
	return shape, nil
}
