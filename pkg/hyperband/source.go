package hyperband

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20"
)

// deterministicSource implements math/rand/v2's rand.Source (the interface
// gonum.org/v1/gonum/stat/distuv's Src field expects) on top of chacha20's
// keystream, the same construction pkg/tensor/rand.go uses for reproducible
// tensor initialization, so a Search call with a fixed Seed samples the same
// bracket of candidates every time.
type deterministicSource struct {
	cipher *chacha20.Cipher
}

func newDeterministicSource(seed uint64) *deterministicSource {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[0:8], seed)
	binary.LittleEndian.PutUint64(key[8:16], seed^0x9E3779B97F4A7C15)
	binary.LittleEndian.PutUint64(key[16:24], seed+1)
	binary.LittleEndian.PutUint64(key[24:32], ^seed)

	var nonce [chacha20.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], seed^0xD1B54A32D192ED03)

	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Fixed-size key/nonce arrays can never mismatch chacha20's
		// required lengths.
		panic(err)
	}
	return &deterministicSource{cipher: c}
}

// Uint64 satisfies math/rand/v2's rand.Source. The source is keyed once at
// construction via its chacha20 key/nonce rather than being reseedable,
// since Search derives a fresh source per call from opts.Seed.
func (s *deterministicSource) Uint64() uint64 {
	var zero, out [8]byte
	s.cipher.XORKeyStream(out[:], zero[:])
	return binary.LittleEndian.Uint64(out[:])
}

func logE(v float64) float64 { return math.Log(v) }
func expE(v float64) float64 { return math.Exp(v) }
