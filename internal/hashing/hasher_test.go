package hashing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHasher(t *testing.T, salt string) *Hasher {
	t.Helper()
	h, err := NewHasher([]byte(salt))
	require.NoError(t, err)
	return h
}

func TestNewHasher_EmptySalt(t *testing.T) {
	_, err := NewHasher(nil)
	assert.ErrorIs(t, err, ErrEmptySalt)
}

func TestHasher_Deterministic(t *testing.T) {
	a := newTestHasher(t, "salt-one")
	b := newTestHasher(t, "salt-one")

	assert.Equal(t, a.HashVisitor("abc"), b.HashVisitor("abc"))
	assert.Len(t, a.HashVisitor("abc"), 64)
	assert.NotEqual(t, a.HashVisitor("abc"), a.HashVisitor("abd"))
}

func TestHasher_SaltChangesDigest(t *testing.T) {
	a := newTestHasher(t, "salt-one")
	b := newTestHasher(t, "salt-two")
	assert.NotEqual(t, a.HashIP("203.0.113.7"), b.HashIP("203.0.113.7"))
}

func TestHasher_PurposesAreSeparated(t *testing.T) {
	h := newTestHasher(t, "salt")
	v := h.HashVisitor("same")
	f := h.HashFingerprint("same")
	ip := h.HashIP("same")

	assert.NotEqual(t, v, f)
	assert.NotEqual(t, v, ip)
	assert.NotEqual(t, f, ip)
}

func TestHasher_EmptyFingerprint(t *testing.T) {
	h := newTestHasher(t, "salt")
	assert.Equal(t, "", h.HashFingerprint(""))
	assert.NotEmpty(t, h.HashVisitor(""))
}

func TestHasher_ConcurrentUse(t *testing.T) {
	h := newTestHasher(t, "salt")
	want := h.HashVisitor("visitor-1")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, h.HashVisitor("visitor-1"))
		}()
	}
	wg.Wait()
}

func TestErrorFingerprint(t *testing.T) {
	a := ErrorFingerprint(1, "TypeError", "x is undefined", "app.js", 10)
	assert.Equal(t, a, ErrorFingerprint(1, "TypeError", "x is undefined", "app.js", 10))
	assert.NotEqual(t, a, ErrorFingerprint(2, "TypeError", "x is undefined", "app.js", 10))
	assert.NotEqual(t, a, ErrorFingerprint(1, "TypeError", "x is undefined", "app.js", 11))
}
