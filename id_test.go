package gridbase

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	time.Sleep(time.Millisecond)
	id2 := NewID()

	if id1 == id2 {
		t.Error("NewID() generated duplicate IDs")
	}
	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("NewID() is not a UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}
	if id1 > id2 {
		t.Error("UUIDv7 not time-ordered")
	}
}

func TestKeyGenerator_Shape(t *testing.T) {
	g := NewKeyGenerator(DefaultKeyLength, DefaultKeyPrefix)
	key := g.Next()

	if len(key) != DefaultKeyLength {
		t.Errorf("len = %d, want %d", len(key), DefaultKeyLength)
	}
	if !strings.HasPrefix(key, DefaultKeyPrefix) {
		t.Errorf("key %q lacks prefix %q", key, DefaultKeyPrefix)
	}
	for _, c := range key {
		if !strings.ContainsRune(keyAlphabet, c) {
			t.Errorf("key %q has character %q outside the alphabet", key, c)
		}
	}
}

func TestKeyGenerator_StrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g := NewKeyGenerator(DefaultKeyLength, DefaultKeyPrefix)
	g.now = func() time.Time { return fixed }

	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if next <= prev {
			t.Fatalf("key %q not greater than %q", next, prev)
		}
		prev = next
	}
}

func TestKeyGenerator_ClockGoesBackwards(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	g := NewKeyGenerator(DefaultKeyLength, DefaultKeyPrefix)
	g.now = func() time.Time { return now }

	first := g.Next()
	now = now.Add(-time.Hour)
	if second := g.Next(); second <= first {
		t.Errorf("key %q not greater than %q after clock moved back", second, first)
	}
}

func TestKeyGenerator_TimestampOrdersAcrossMilliseconds(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	g := NewKeyGenerator(DefaultKeyLength, DefaultKeyPrefix)
	g.now = func() time.Time { return now }

	a := g.Next()
	now = now.Add(time.Millisecond)
	b := g.Next()
	if a[:1+timestampChars] >= b[:1+timestampChars] {
		t.Errorf("timestamp part of %q should sort before %q", a, b)
	}
}

func TestKeyGenerator_MinimumLength(t *testing.T) {
	g := NewKeyGenerator(1, "-")
	if got := len(g.Next()); got != 1+timestampChars+1 {
		t.Errorf("len = %d, want %d", got, 1+timestampChars+1)
	}
}

func TestIncrementTail(t *testing.T) {
	tail := []byte("-z")
	if !incrementTail(tail) || string(tail) != "0-" {
		t.Errorf("incrementTail(-z) = %q, want 0-", tail)
	}
	full := []byte("zz")
	if incrementTail(full) {
		t.Error("expected overflow for zz")
	}
}

func TestIndexOfKeyChar(t *testing.T) {
	for i := 0; i < len(keyAlphabet); i++ {
		if got := indexOfKeyChar(keyAlphabet[i]); got != i {
			t.Errorf("indexOfKeyChar(%q) = %d, want %d", keyAlphabet[i], got, i)
		}
	}
}
