/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Apr  6 09:12:40 2018 mstenber
 * Last modified: Fri Apr 20 17:02:19 2018 mstenber
 * Edit time:     164 min
 *
 */

package inode

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-sectorfs/cache"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/device/inmemory"
)

const testSectors = 1024

// testAllocator is the allocator contract without the freemap
// package (which sits above this one): a plain bitmap over the test
// device, no persistence.
type testAllocator struct {
	used []bool
	free int
}

var _ Allocator = &testAllocator{}

func newTestAllocator(sectors int) *testAllocator {
	return &testAllocator{used: make([]bool, sectors), free: sectors}
}

func (self *testAllocator) Allocate(count int) (sectors []device.Sector, ok bool) {
	if count > self.free {
		return nil, false
	}
	for i := 0; i < len(self.used) && len(sectors) < count; i++ {
		if !self.used[i] {
			self.used[i] = true
			sectors = append(sectors, device.Sector(i))
		}
	}
	self.free -= count
	return sectors, true
}

func (self *testAllocator) Release(s device.Sector, count int) {
	for i := 0; i < count; i++ {
		if !self.used[int(s)+i] {
			panic("release of free sector")
		}
		self.used[int(s)+i] = false
	}
	self.free += count
}

func newTestRegistry(sectors device.Sector) (*cache.Cache, *testAllocator, *Registry) {
	dev := inmemory.NewInMemoryDevice(sectors)
	c := cache.New(dev, -1)
	alloc := newTestAllocator(int(sectors))
	return c, alloc, NewRegistry(c, alloc)
}

func TestCreateReadZeroes(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	for _, length := range []int64{0, 1, 511, 512, NumDirect * 512, NumDirect*512 + 1, 10000} {
		rs, ok := alloc.Allocate(1)
		assert.True(t, ok)
		assert.True(t, reg.Create(rs[0], length, false))

		i := reg.Open(rs[0])
		assert.Equal(t, i.Length(), length)
		assert.False(t, i.IsDirectory())
		buf := make([]byte, length+10)
		n := i.ReadAt(buf, 0)
		assert.Equal(t, int64(n), length)
		for j := 0; j < n; j++ {
			if buf[j] != 0 {
				t.Fatalf("length %d: byte %d not zero", length, j)
			}
		}
		i.Close()
	}
}

// The 10,000 byte scenario: 20 data sectors plus one indirect block.
func TestWriteReadBack(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, ok := alloc.Allocate(1)
	assert.True(t, ok)
	assert.True(t, reg.Create(rs[0], 0, false))
	free := alloc.free

	p := make([]byte, 10000)
	rand.New(rand.NewSource(42)).Read(p)

	i := reg.Open(rs[0])
	defer i.Close()
	assert.Equal(t, i.WriteAt(p, 0), len(p))
	assert.Equal(t, i.Length(), int64(10000))

	buf := make([]byte, len(p))
	assert.Equal(t, i.ReadAt(buf, 0), len(p))
	assert.True(t, bytes.Equal(buf, p))

	// ceil(10000/512) = 20 data sectors + 1 indirect block.
	assert.Equal(t, free-alloc.free, 21)
}

func TestExtensionMonotonic(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 0, false))
	free := alloc.free
	i := reg.Open(rs[0])
	defer i.Close()

	// Crosses the direct boundary, the indirect boundary and two
	// doubly-indirect children. 12 + 128 = 140 sectors is the
	// doubly-indirect region start.
	lengths := []int64{1, 100, 6144, 6145, 71680, 71681, 100000, 150000}
	one := []byte{1}
	for _, l := range lengths {
		assert.Equal(t, i.WriteAt(one, l-1), 1)
		assert.Equal(t, i.Length(), l)
	}

	final := lengths[len(lengths)-1]
	want := dataSectors(final) + indexSectors(final)
	assert.Equal(t, free-alloc.free, want)

	// Everything written is where it was written.
	buf := make([]byte, 1)
	for _, l := range lengths {
		assert.Equal(t, i.ReadAt(buf, l-1), 1)
		assert.Equal(t, buf[0], byte(1))
	}
}

func TestExtensionWithinAllocated(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 100, false))
	free := alloc.free
	i := reg.Open(rs[0])
	defer i.Close()

	// Still inside the single already-allocated sector: length
	// moves, no sector does.
	assert.Equal(t, i.WriteAt(bytes.Repeat([]byte{3}, 100), 100), 100)
	assert.Equal(t, i.Length(), int64(200))
	assert.Equal(t, alloc.free, free)
}

func TestTeardownComplete(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	free := alloc.free
	for _, length := range []int64{0, 100, 10000, 150000} {
		rs, _ := alloc.Allocate(1)
		assert.True(t, reg.Create(rs[0], length, false))
		i := reg.Open(rs[0])
		i.WriteAt([]byte{9}, length/2)
		i.Remove()
		i.Close()
		assert.Equal(t, alloc.free, free)
	}
}

func TestRegistryDedup(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 100, false))

	i1 := reg.Open(rs[0])
	i2 := reg.Open(rs[0])
	assert.Equal(t, i1, i2)
	assert.Equal(t, reg.OpenCount(), 1)

	i1.Close()
	assert.Equal(t, reg.OpenCount(), 1)
	i2.Close()
	assert.Equal(t, reg.OpenCount(), 0)
}

func TestRemoveDeferred(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	free := alloc.free
	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 1000, false))

	i1 := reg.Open(rs[0])
	i2 := i1.Reopen()
	i1.Remove()
	i1.Close()

	// Still open through i2; nothing reclaimed, still readable.
	buf := make([]byte, 1000)
	assert.Equal(t, i2.ReadAt(buf, 0), 1000)
	assert.True(t, alloc.free < free)

	i2.Close()
	assert.Equal(t, alloc.free, free)
}

func TestDenyWrite(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 100, false))
	i := reg.Open(rs[0])
	defer i.Close()

	i.DenyWrite()
	assert.Equal(t, i.WriteAt([]byte{1}, 0), 0)
	i.AllowWrite()
	assert.Equal(t, i.WriteAt([]byte{1}, 0), 1)
}

func TestWriteBeyondStructuralMax(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 0, false))
	i := reg.Open(rs[0])
	defer i.Close()

	assert.Equal(t, i.WriteAt([]byte{1}, MaxFileSize), 0)
	assert.Equal(t, i.Length(), int64(0))
}

func TestAllocationFailureLeavesLength(t *testing.T) {
	t.Parallel()

	// 40-sector device: the 100,000 byte write cannot be backed.
	c, alloc, reg := newTestRegistry(40)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.True(t, reg.Create(rs[0], 512, false))
	free := alloc.free
	i := reg.Open(rs[0])
	defer i.Close()

	p := make([]byte, 100000)
	// Only the portion inside the old length gets written.
	assert.Equal(t, i.WriteAt(p, 0), 512)
	assert.Equal(t, i.Length(), int64(512))
	assert.Equal(t, alloc.free, free)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	c, alloc, reg := newTestRegistry(testSectors)
	defer c.Close()

	rs, _ := alloc.Allocate(1)
	assert.False(t, reg.Probe(rs[0]))
	assert.True(t, reg.Create(rs[0], 0, true))
	assert.True(t, reg.Probe(rs[0]))

	i := reg.Open(rs[0])
	defer i.Close()
	assert.True(t, i.IsDirectory())
}

func TestSectorCounts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, dataSectors(0), 0)
	assert.Equal(t, dataSectors(1), 1)
	assert.Equal(t, dataSectors(512), 1)
	assert.Equal(t, dataSectors(513), 2)

	assert.Equal(t, indexSectors(NumDirect*512), 0)
	assert.Equal(t, indexSectors(NumDirect*512+1), 1)
	assert.Equal(t, indexSectors((NumDirect+IndirectChildren)*512), 1)
	// One byte into the doubly-indirect region: the doubly
	// indirect block itself plus its first child.
	assert.Equal(t, indexSectors((NumDirect+IndirectChildren)*512+1), 3)
	assert.Equal(t, indexSectors(MaxFileSize), 2+IndirectChildren)
}
