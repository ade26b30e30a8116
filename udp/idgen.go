package udp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// idGenerator draws local edge ids from a ChaCha20 keystream keyed from
// crypto/rand. Ids are in [1, MaxInt32]: 0 means "new edge" on the wire
// and negative values mark control datagrams.
type idGenerator struct {
	mu     sync.Mutex
	stream *chacha20.Cipher
	buf    [4]byte
}

func newIDGenerator() (*idGenerator, error) {
	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("seed id generator: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seed id generator: %w", err)
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("seed id generator: %w", err)
	}
	return &idGenerator{stream: stream}, nil
}

// next returns a positive id for which inUse reports false.
func (g *idGenerator) next(inUse func(int32) bool) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		g.buf = [4]byte{}
		g.stream.XORKeyStream(g.buf[:], g.buf[:])
		id := int32(binary.BigEndian.Uint32(g.buf[:]) & math.MaxInt32)
		if id == 0 {
			continue
		}
		if inUse != nil && inUse(id) {
			continue
		}
		return id
	}
}
