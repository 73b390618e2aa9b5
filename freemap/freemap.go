/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  9 10:12:33 2018 mstenber
 * Last modified: Fri Apr 20 15:33:28 2018 mstenber
 * Edit time:     128 min
 *
 */

// freemap owns the free-space bitmap: one bit per device sector, set
// when the sector is allocated. The bitmap is mirrored to an ordinary
// file (whose inode lives at a fixed well-known sector) after every
// successful mutation, so the persistent copy is never behind the
// in-memory one by more than one failed call.
package freemap

import (
	"log"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/inode"
	"github.com/fingon/go-sectorfs/mlog"
	"github.com/fingon/go-sectorfs/util"
)

// Fixed sector numbers assigned at format time.
const (
	// FreeMapSector holds the free-map file's inode.
	FreeMapSector device.Sector = 0
	// RootDirSector holds the root directory's inode.
	RootDirSector device.Sector = 1
)

// FreeMap hands out unique, currently-unused sector numbers and
// reclaims them. A multi-sector request returns individually numbered
// sectors with no contiguity guarantee; the inode structure depends
// on exactly that.
type FreeMap struct {
	lock util.MutexLocked
	bm   *bitmap
	file *inode.Inode
}

var _ inode.Allocator = &FreeMap{}

// New sets up the in-memory bitmap for a device of the given
// capacity, with the two well-known sectors already reserved. The
// backing file does not exist yet; see Create and Open.
func New(sectors device.Sector) *FreeMap {
	self := &FreeMap{bm: newBitmap(int(sectors))}
	self.bm.mark(int(FreeMapSector))
	self.bm.mark(int(RootDirSector))
	return self
}

// Allocate returns count free sectors, marking them allocated and
// persisting the bitmap. Either the whole batch succeeds or nothing
// observable happens: on shortage or persistence failure every bit
// set during the call is rolled back.
func (self *FreeMap) Allocate(count int) (sectors []device.Sector, ok bool) {
	defer self.lock.Locked()()
	if count == 0 {
		return nil, true
	}
	sectors = make([]device.Sector, 0, count)
	for i := 0; i < self.bm.bits && len(sectors) < count; i++ {
		if !self.bm.test(i) {
			self.bm.mark(i)
			sectors = append(sectors, device.Sector(i))
		}
	}
	if len(sectors) < count || !self.persist() {
		for _, s := range sectors {
			self.bm.reset(int(s))
		}
		mlog.Printf2("freemap/freemap", "fm.Allocate %d failed", count)
		return nil, false
	}
	mlog.Printf2("freemap/freemap", "fm.Allocate %d -> %v", count, sectors)
	return sectors, true
}

// Release makes the count sectors starting at s available again and
// persists the bitmap. All of them must currently be allocated;
// anything else means a double free somewhere and is fatal.
func (self *FreeMap) Release(s device.Sector, count int) {
	defer self.lock.Locked()()
	if !self.bm.all(int(s), count) {
		log.Panicf("release of free sector in [%d, %d)", s, int(s)+count)
	}
	for i := 0; i < count; i++ {
		self.bm.reset(int(s) + i)
	}
	if !self.persist() {
		log.Panicf("free map persist failed on release of %d", s)
	}
	mlog.Printf2("freemap/freemap", "fm.Release %d+%d", s, count)
}

// FreeCount returns the number of currently free sectors.
func (self *FreeMap) FreeCount() int {
	defer self.lock.Locked()()
	return self.bm.countClear()
}

// Create makes the backing file on a fresh device and writes the
// bitmap to it. The file's own sectors are allocated from the (not
// yet persisted) bitmap itself.
func (self *FreeMap) Create(reg *inode.Registry) {
	mlog.Printf2("freemap/freemap", "fm.Create")
	if !reg.Create(FreeMapSector, int64(len(self.bm.bytes())), false) {
		log.Panic("free map creation failed")
	}
	self.file = reg.Open(FreeMapSector)
	defer self.lock.Locked()()
	if !self.persist() {
		log.Panic("can't write free map")
	}
}

// Open loads the bitmap from the backing file at mount time.
func (self *FreeMap) Open(reg *inode.Registry) {
	mlog.Printf2("freemap/freemap", "fm.Open")
	self.file = reg.Open(FreeMapSector)
	defer self.lock.Locked()()
	buf := make([]byte, len(self.bm.bytes()))
	if n := self.file.ReadAt(buf, 0); n != len(buf) {
		log.Panicf("free map file is %d bytes, want %d", n, len(buf))
	}
	self.bm.setBytes(buf)
}

// Close releases the in-memory handle. The bitmap is persisted after
// every mutation, so there is nothing left to write.
func (self *FreeMap) Close() {
	if self.file != nil {
		self.file.Close()
		self.file = nil
	}
}

// persist mirrors the bitmap to the backing file. Before the file
// exists (bootstrap during Create) there is nothing to mirror and it
// trivially succeeds. Caller must hold the lock.
func (self *FreeMap) persist() bool {
	if self.file == nil {
		return true
	}
	b := self.bm.bytes()
	return self.file.WriteAt(b, 0) == len(b)
}
