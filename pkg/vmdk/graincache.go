package vmdk

import "github.com/sirupsen/logrus"

// grainCacheKey identifies one decoded grain within one sparse extent
// (spec §3 "Cache entry", component C6).
type grainCacheKey struct {
	extent int
	grain  int64
}

type grainCacheSlot struct {
	valid bool
	key   grainCacheKey
	data  []byte
}

// grainCache is a direct-mapped, fixed-capacity cache from
// (extent_index, grain_logical_index) to a decoded grain buffer (spec
// §4.6). Same slot/eviction discipline as grainTableCache: sequential
// reads within a grain, and alternation between two adjacent grains,
// should not re-read or re-decompress data already in hand.
type grainCache struct {
	slots []grainCacheSlot
}

// DefaultGrainCacheCapacity is M in spec §4.6.
const DefaultGrainCacheCapacity = 8

func newGrainCache(capacity int) *grainCache {
	if capacity < 1 {
		capacity = 1
	}
	return &grainCache{slots: make([]grainCacheSlot, capacity)}
}

func (c *grainCache) lookup(key grainCacheKey) ([]byte, bool) {
	slot := &c.slots[uint64(key.grain)%uint64(len(c.slots))]
	if slot.valid && slot.key == key {
		return slot.data, true
	}
	return nil, false
}

func (c *grainCache) store(key grainCacheKey, data []byte) {
	slot := &c.slots[uint64(key.grain)%uint64(len(c.slots))]
	if slot.valid && slot.key != key {
		logrus.WithFields(logrus.Fields{"extent": slot.key.extent, "grain": slot.key.grain}).Debug("evicting grain data cache slot")
	}
	slot.valid = true
	slot.key = key
	slot.data = data
}
