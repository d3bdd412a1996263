package gridbase

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// keyAlphabet is ordered by byte value so generated keys sort lexicographically.
const keyAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	// DefaultKeyLength is the length of document keys, prefix included.
	DefaultKeyLength = 27
	// DefaultKeyPrefix starts every generated document key.
	DefaultKeyPrefix = "-"

	timestampChars = 8
)

// KeyGenerator produces unique, strictly increasing document keys:
// prefix, 8 chars of millisecond timestamp, then a random tail.
// Keys generated in the same millisecond reuse the timestamp and increment the tail.
type KeyGenerator struct {
	mu     sync.Mutex
	length int
	prefix string
	now    func() time.Time
	lastMs int64
	tail   []byte
}

// NewKeyGenerator creates a generator. Lengths too short to hold the timestamp
// and one random char are raised to that minimum.
func NewKeyGenerator(length int, prefix string) *KeyGenerator {
	if min := len(prefix) + timestampChars + 1; length < min {
		length = min
	}
	return &KeyGenerator{
		length: length,
		prefix: prefix,
		now:    time.Now,
		lastMs: -1,
	}
}

// Next returns the next key.
func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	tailLen := g.length - len(g.prefix) - timestampChars

	if ms <= g.lastMs && len(g.tail) == tailLen {
		// Same millisecond or clock went backwards: stay on the last timestamp.
		ms = g.lastMs
		if !incrementTail(g.tail) {
			ms++
			g.tail = randomTail(tailLen)
		}
	} else {
		g.tail = randomTail(tailLen)
	}
	g.lastMs = ms

	buf := make([]byte, 0, g.length)
	buf = append(buf, g.prefix...)
	buf = append(buf, encodeTimestamp(ms)...)
	buf = append(buf, g.tail...)
	return string(buf)
}

func encodeTimestamp(ms int64) []byte {
	out := make([]byte, timestampChars)
	for i := timestampChars - 1; i >= 0; i-- {
		out[i] = keyAlphabet[ms%64]
		ms /= 64
	}
	return out
}

// randomTail draws tail chars from UUIDv4 random bytes.
func randomTail(n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		id := uuid.New()
		for _, b := range id {
			if len(out) == n {
				break
			}
			out = append(out, keyAlphabet[b&63])
		}
	}
	return out
}

// incrementTail adds one to the tail in base 64. It reports false on overflow.
func incrementTail(tail []byte) bool {
	for i := len(tail) - 1; i >= 0; i-- {
		idx := indexOfKeyChar(tail[i])
		if idx < 63 {
			tail[i] = keyAlphabet[idx+1]
			return true
		}
		tail[i] = keyAlphabet[0]
	}
	return false
}

func indexOfKeyChar(c byte) int {
	switch {
	case c == '-':
		return 0
	case c >= '0' && c <= '9':
		return 1 + int(c-'0')
	case c >= 'A' && c <= 'Z':
		return 11 + int(c-'A')
	case c == '_':
		return 37
	default:
		return 38 + int(c-'a')
	}
}

// NewID generates a UUIDv7 (time-ordered) identifier. Used for lock ownership tokens.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
