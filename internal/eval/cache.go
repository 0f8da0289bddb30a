package eval

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cwbudde/psdmads/internal/point"
)

// DefaultCacheSize is the number of evaluated points remembered when no
// size is configured.
const DefaultCacheSize = 100000

// Cache remembers evaluated points keyed by the bits of their coordinates.
// It is shared by every main thread and is safe for concurrent use.
type Cache struct {
	entries *lru.Cache

	mu   sync.Mutex
	best point.Point
	seen bool
}

// NewCache creates a cache holding at most size points.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

func hashPosition(x []float64) [sha1.Size]byte {
	data := make([]byte, len(x)*8)
	for i, v := range x {
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return sha1.Sum(data)
}

// Get returns the cached evaluation of x.
func (c *Cache) Get(x []float64) (point.Point, bool) {
	v, ok := c.entries.Get(hashPosition(x))
	if !ok {
		return point.Point{}, false
	}
	return v.(point.Point).Clone(), true
}

// Add stores an evaluated point.
func (c *Cache) Add(p point.Point) {
	c.entries.Add(hashPosition(p.X), p.Clone())

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen || better(p, c.best) {
		c.best = p.Clone()
		c.seen = true
	}
}

// Best returns the best point ever added, even if it has since been
// evicted.
func (c *Cache) Best() (point.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best.Clone(), c.seen
}

func (c *Cache) Len() int { return c.entries.Len() }

func better(p, q point.Point) bool {
	if p.Feasible() != q.Feasible() {
		return p.Feasible()
	}
	if p.Feasible() {
		return p.F < q.F
	}
	return p.H < q.H || (p.H == q.H && p.F < q.F)
}
