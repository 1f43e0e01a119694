package explore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/dexsim/emu"
)

// CacheStats holds state cache statistics.
type CacheStats struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	// Collisions counts lookups whose key matched a different state.
	Collisions uint64
}

// StateCache remembers explored (address, state) pairs in a bounded
// set-associative directory with LRU replacement. A forgotten pair is simply
// explored again.
type StateCache struct {
	sets, ways int

	// Akita cache directory for tag management
	directory *akitacache.DirectoryImpl

	// Entries indexed by (setID * ways + wayID)
	entries []cacheEntry

	stats CacheStats
}

type cacheEntry struct {
	pc    int
	state *emu.RegisterState
}

// NewStateCache creates a cache holding up to sets*ways pairs.
func NewStateCache(sets, ways int) *StateCache {
	return &StateCache{
		sets: sets,
		ways: ways,
		directory: akitacache.NewDirectory(
			sets,
			ways,
			1,
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]cacheEntry, sets*ways),
	}
}

// Stats returns cache statistics.
func (c *StateCache) Stats() CacheStats {
	return c.stats
}

// Reset forgets every pair.
func (c *StateCache) Reset() {
	c.directory.Reset()
	for i := range c.entries {
		c.entries[i] = cacheEntry{}
	}
	c.stats = CacheStats{}
}

func (c *StateCache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.ways + block.WayID
}

// key mixes the address into the state fingerprint.
func key(pc int, st *emu.RegisterState) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(pc))
	binary.LittleEndian.PutUint64(buf[8:], st.Fingerprint())
	return xxhash.Sum64(buf[:])
}

// Seen reports whether an equal state was recorded at pc. Otherwise it
// records a copy of st and returns false.
func (c *StateCache) Seen(pc int, st *emu.RegisterState) bool {
	c.stats.Lookups++
	tag := key(pc, st)

	block := c.directory.Lookup(0, tag)
	if block != nil && block.IsValid {
		entry := c.entries[c.blockIndex(block)]
		if entry.pc == pc && entry.state.Equal(st) {
			c.stats.Hits++
			c.directory.Visit(block)
			return true
		}
		c.stats.Collisions++
		c.stats.Misses++
		c.entries[c.blockIndex(block)] = cacheEntry{pc: pc, state: st.Clone()}
		c.directory.Visit(block)
		return false
	}

	c.stats.Misses++
	victim := c.directory.FindVictim(tag)
	if victim == nil {
		return false
	}
	if victim.IsValid {
		c.stats.Evictions++
	}
	victim.Tag = tag
	victim.IsValid = true
	c.entries[c.blockIndex(victim)] = cacheEntry{pc: pc, state: st.Clone()}
	c.directory.Visit(victim)

	return false
}
