package vmdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrainTableCacheHitAndMiss(t *testing.T) {
	c := newGrainTableCache(4)

	key := grainTableCacheKey{extent: 0, gdIndex: 1}
	_, hit := c.lookup(key)
	assert.False(t, hit)

	table := GrainTable{1, 2, 3}
	c.store(key, table)

	got, hit := c.lookup(key)
	assert.True(t, hit)
	assert.Equal(t, table, got)

	// Different extent, same gdIndex: same slot, different key -> miss.
	other := grainTableCacheKey{extent: 1, gdIndex: 1}
	_, hit = c.lookup(other)
	assert.False(t, hit)
}

func TestGrainTableCacheEviction(t *testing.T) {
	c := newGrainTableCache(2)

	k1 := grainTableCacheKey{extent: 0, gdIndex: 0}
	k2 := grainTableCacheKey{extent: 0, gdIndex: 2} // same slot as k1 (0 mod 2 == 2 mod 2)

	c.store(k1, GrainTable{1})
	c.store(k2, GrainTable{2})

	_, hit := c.lookup(k1)
	assert.False(t, hit, "k1 should have been evicted by k2's collision")

	got, hit := c.lookup(k2)
	assert.True(t, hit)
	assert.Equal(t, GrainTable{2}, got)
}

func TestGrainTableCacheMinimumCapacity(t *testing.T) {
	c := newGrainTableCache(0)
	assert.Len(t, c.slots, 1)
}

func TestGrainCacheHitAndMiss(t *testing.T) {
	c := newGrainCache(4)

	key := grainCacheKey{extent: 0, grain: 1}
	_, hit := c.lookup(key)
	assert.False(t, hit)

	data := []byte{0xAA, 0xBB}
	c.store(key, data)

	got, hit := c.lookup(key)
	assert.True(t, hit)
	assert.Equal(t, data, got)
}

func TestGrainCacheEviction(t *testing.T) {
	c := newGrainCache(2)

	k1 := grainCacheKey{extent: 0, grain: 0}
	k2 := grainCacheKey{extent: 0, grain: 2}

	c.store(k1, []byte{1})
	c.store(k2, []byte{2})

	_, hit := c.lookup(k1)
	assert.False(t, hit)

	got, hit := c.lookup(k2)
	assert.True(t, hit)
	assert.Equal(t, []byte{2}, got)
}
