package vmdk

import "github.com/sirupsen/logrus"

// grainTableCacheKey identifies one grain table within one sparse extent
// (spec §3 "Cache entry", component C5).
type grainTableCacheKey struct {
	extent  int
	gdIndex int
}

type grainTableCacheSlot struct {
	valid bool
	key   grainTableCacheKey
	table GrainTable
}

// grainTableCache is a direct-mapped, fixed-capacity cache from
// (extent_index, gd_index) to a loaded GrainTable (spec §4.5). Slot index
// is gd_index mod N; collisions evict the incumbent. It is strictly a
// cycle optimization — correctness does not depend on N.
type grainTableCache struct {
	slots []grainTableCacheSlot
}

// DefaultGrainTableCacheCapacity is N in spec §4.5.
const DefaultGrainTableCacheCapacity = 32

func newGrainTableCache(capacity int) *grainTableCache {
	if capacity < 1 {
		capacity = 1
	}
	return &grainTableCache{slots: make([]grainTableCacheSlot, capacity)}
}

// lookup returns a cached table and true on a hit, or (nil, false) on a miss.
func (c *grainTableCache) lookup(key grainTableCacheKey) (GrainTable, bool) {
	slot := &c.slots[key.gdIndex%len(c.slots)]
	if slot.valid && slot.key == key {
		return slot.table, true
	}
	return nil, false
}

// store installs table at its slot, evicting any prior occupant.
func (c *grainTableCache) store(key grainTableCacheKey, table GrainTable) {
	slot := &c.slots[key.gdIndex%len(c.slots)]
	if slot.valid && slot.key != key {
		logrus.WithFields(logrus.Fields{"extent": slot.key.extent, "gdIndex": slot.key.gdIndex}).Debug("evicting grain table cache slot")
	}
	slot.valid = true
	slot.key = key
	slot.table = table
}
