/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  9 11:28:17 2018 mstenber
 * Last modified: Fri Apr 20 15:41:05 2018 mstenber
 * Edit time:     58 min
 *
 */

package freemap

import (
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-sectorfs/cache"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/device/inmemory"
	"github.com/fingon/go-sectorfs/inode"
)

const testSectors = 256

func newTestFreeMap(t *testing.T) (device.Device, *cache.Cache, *FreeMap, *inode.Registry) {
	dev := inmemory.NewInMemoryDevice(testSectors)
	c := cache.New(dev, -1)
	fm := New(testSectors)
	reg := inode.NewRegistry(c, fm)
	fm.Create(reg)
	return dev, c, fm, reg
}

func TestAllocateExclusive(t *testing.T) {
	t.Parallel()

	_, c, fm, _ := newTestFreeMap(t)
	defer c.Close()
	seen := make(map[device.Sector]bool)
	for i := 0; i < 10; i++ {
		sectors, ok := fm.Allocate(7)
		assert.True(t, ok)
		assert.Equal(t, len(sectors), 7)
		for _, s := range sectors {
			assert.False(t, seen[s])
			seen[s] = true
		}
	}
}

func TestAllocateRollback(t *testing.T) {
	t.Parallel()

	_, c, fm, _ := newTestFreeMap(t)
	defer c.Close()
	before := fm.FreeCount()
	_, ok := fm.Allocate(before + 1)
	assert.False(t, ok)
	assert.Equal(t, fm.FreeCount(), before)

	// And everything that is actually there can still be had.
	sectors, ok := fm.Allocate(before)
	assert.True(t, ok)
	assert.Equal(t, len(sectors), before)
	assert.Equal(t, fm.FreeCount(), 0)
}

func TestReleaseReuse(t *testing.T) {
	t.Parallel()

	_, c, fm, _ := newTestFreeMap(t)
	defer c.Close()
	sectors, ok := fm.Allocate(3)
	assert.True(t, ok)
	before := fm.FreeCount()
	for _, s := range sectors {
		fm.Release(s, 1)
	}
	assert.Equal(t, fm.FreeCount(), before+3)
}

func TestDoubleReleasePanics(t *testing.T) {
	t.Parallel()

	_, c, fm, _ := newTestFreeMap(t)
	defer c.Close()
	sectors, ok := fm.Allocate(1)
	assert.True(t, ok)
	fm.Release(sectors[0], 1)
	defer func() {
		assert.True(t, recover() != nil)
	}()
	fm.Release(sectors[0], 1)
}

func TestPersistence(t *testing.T) {
	t.Parallel()

	dev, c, fm, _ := newTestFreeMap(t)
	_, ok := fm.Allocate(5)
	assert.True(t, ok)
	free := fm.FreeCount()
	fm.Close()
	c.Close()

	// Remount: the persisted bitmap has the same free count.
	c2 := cache.New(dev, -1)
	defer c2.Close()
	fm2 := New(testSectors)
	reg2 := inode.NewRegistry(c2, fm2)
	fm2.Open(reg2)
	defer fm2.Close()
	assert.Equal(t, fm2.FreeCount(), free)
}
