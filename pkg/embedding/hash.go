package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashEmbedder derives a unit-length vector from the SHA-256 of the text.
// Identical text always yields the identical vector. The vectors carry no
// semantic meaning; they only keep the pipeline exercisable offline.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of the given length.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 1
	}
	return &HashEmbedder{dimension: dimension}
}

// Dimension returns the vector length.
func (h *HashEmbedder) Dimension() int { return h.dimension }

// Embed returns the deterministic vector for text.
func (h *HashEmbedder) Embed(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	state := binary.LittleEndian.Uint64(sum[0:8]) ^
		binary.LittleEndian.Uint64(sum[8:16]) ^
		binary.LittleEndian.Uint64(sum[16:24]) ^
		binary.LittleEndian.Uint64(sum[24:32])

	vec := make([]float32, h.dimension)
	var norm float64
	var v uint64
	for i := range vec {
		state, v = splitMix64(state)
		// Top 53 bits as a float in [0,1), shifted to [-1,1).
		f := float64(v>>11)/float64(1<<53)*2 - 1
		vec[i] = float32(f)
		norm += f * f
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

func splitMix64(state uint64) (uint64, uint64) {
	state += 0x9E3779B97F4A7C15
	z := state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return state, z ^ (z >> 31)
}
