package tensor

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
)

// deterministicStream produces a reproducible, well-distributed sequence of
// uniform floats in [0,1) keyed on (shape, seed), replacing the source's
// pseudo-random generator (spec explicitly does not require reproducing it
// bit-for-bit, only that the replacement be documented and repeatable). It
// is backed by chacha20's keystream: the seed is expanded into a 256-bit key
// and a fixed nonce, then keystream bytes are consumed four at a time and
// interpreted as a uniform uint32 scaled into [0,1).
type deterministicStream struct {
	cipher *chacha20.Cipher
	buf    [4]byte
}

func newDeterministicStream(seed uint64, salt uint64) *deterministicStream {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	binary.LittleEndian.PutUint64(key[8:16], salt)
	binary.LittleEndian.PutUint64(key[16:24], seed^salt)
	binary.LittleEndian.PutUint64(key[24:32], seed+salt+1)

	var nonce [chacha20.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], salt^0x9E3779B97F4A7C15)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// chacha20.NewUnauthenticatedCipher only fails on malformed key/nonce
		// lengths, which are fixed-size arrays here and can never mismatch.
		panic(err)
	}
	return &deterministicStream{cipher: c}
}

// next returns the next uniform value in [0,1).
func (s *deterministicStream) next() float32 {
	var zero, out [4]byte
	s.cipher.XORKeyStream(out[:], zero[:])
	u := binary.LittleEndian.Uint32(out[:])
	// The top 24 bits fit a float32 mantissa exactly, so the result never
	// rounds up to 1.
	return float32(u>>8) / (1 << 24)
}

// uniform returns a value uniformly distributed in [lo, hi).
func (s *deterministicStream) uniform(lo, hi float32) float32 {
	return lo + s.next()*(hi-lo)
}

// seedFor derives a salt from a flat cell index so every cell in a shape
// draws an independent stream position while the whole tensor stays keyed
// on (shape, seed).
func seedFor(shape Shape, row, col, channel int) uint64 {
	idx := channel*shape.ElementsPerChannel() + row*shape.Cols + col
	return uint64(idx)
}
