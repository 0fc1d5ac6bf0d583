package matterfake

import (
	"math/rand"

	"matterctl/internal/matter/ports"
)

var _ ports.Crypto = (*Crypto)(nil)

// Crypto is a deterministic ports.Crypto: RandomBytes is seeded so tests
// get reproducible pairing codes, and DeriveKey is a cheap stand-in (not
// real PBKDF2) good enough to exercise the calling code's plumbing.
type Crypto struct {
	CallRecorder
	rng *rand.Rand
}

// NewCrypto creates a Crypto seeded deterministically.
func NewCrypto(seed int64) *Crypto {
	return &Crypto{rng: rand.New(rand.NewSource(seed))}
}

func (c *Crypto) RandomBytes(n int) ([]byte, error) {
	c.record("RandomBytes", n)
	b := make([]byte, n)
	_, _ = c.rng.Read(b)
	return b, nil
}

func (c *Crypto) DeriveKey(passcode uint32, salt []byte, iterations int, keyLen int) ([]byte, error) {
	c.record("DeriveKey", passcode, salt, iterations, keyLen)
	out := make([]byte, keyLen)
	seed := passcode
	for i := range out {
		seed = seed*1664525 + 1013904223
		out[i] = byte(seed >> 24)
	}
	return out, nil
}
