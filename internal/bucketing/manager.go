package bucketing

import (
	"fmt"
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Manager maps marker keys onto a fixed number of shards so that no single
// directory or partition has to hold every key.
type Manager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewManager(buckets int) *Manager {
	if buckets <= 0 {
		buckets = 1
	}
	return &Manager{
		buckets: buckets,
		hasherPool: sync.Pool{
			New: func() any { return murmur3.New64() },
		},
	}
}

// Bucket returns a stable shard index in [0, Buckets()).
func (m *Manager) Bucket(key string) int {
	h := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(h)

	h.Reset()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(m.buckets))
}

// BucketName renders the shard index as a fixed-width directory name.
func (m *Manager) BucketName(key string) string {
	return fmt.Sprintf("%04x", m.Bucket(key))
}

func (m *Manager) Buckets() int {
	return m.buckets
}
