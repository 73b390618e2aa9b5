/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr  5 13:27:14 2018 mstenber
 * Last modified: Fri Apr 20 16:10:33 2018 mstenber
 * Edit time:     201 min
 *
 */

// inode implements the extensible indexed file-mapping structure: one
// record sector per file, 12 direct pointers, one indirect and one
// doubly-indirect block. All metadata and data I/O goes through the
// buffer cache; sector acquisition and release go through the
// Allocator.
package inode

import (
	"encoding/binary"
	"log"

	"github.com/fingon/go-sectorfs/cache"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
	"github.com/fingon/go-sectorfs/util"
)

// Allocator hands out unique currently-unused sector numbers and
// takes them back. Sector lists are not necessarily contiguous; the
// index structure never assumes they are.
type Allocator interface {
	// Allocate returns count sectors, or ok=false (and no visible
	// state change) if that many are not available.
	Allocate(count int) (sectors []device.Sector, ok bool)

	// Release returns count sectors starting at s. Releasing a
	// sector that is not allocated is fatal.
	Release(s device.Sector, count int)
}

// Registry owns the set of in-memory inode handles. Exactly one
// handle exists per record sector; opening an already-open inode
// bumps its reference count.
type Registry struct {
	cache *cache.Cache
	alloc Allocator

	lock    util.MutexLocked
	handles map[device.Sector]*Inode
}

func NewRegistry(c *cache.Cache, alloc Allocator) *Registry {
	self := &Registry{cache: c, alloc: alloc}
	self.handles = make(map[device.Sector]*Inode)
	return self
}

// Create initializes a fresh inode of the given byte length at the
// given record sector, zero-filling its data sectors. Returns false
// if the allocator cannot supply the structure.
func (self *Registry) Create(s device.Sector, length int64, isDir bool) bool {
	mlog.Printf2("inode/inode", "r.Create %d len=%d dir=%v", s, length, isDir)
	d := &inodeDisk{isDir: isDir}
	return d.extend(self.cache, self.alloc, s, length)
}

// Open returns the handle for the inode at the given record sector,
// reusing the existing one if some caller already has it open.
func (self *Registry) Open(s device.Sector) *Inode {
	defer self.lock.Locked()()
	if i, ok := self.handles[s]; ok {
		i.openCount.Add(1)
		mlog.Printf2("inode/inode", "r.Open %d (again, rc=%d)", s, i.openCount.Get())
		return i
	}
	i := &Inode{registry: self, sector: s}
	i.openCount.Set(1)
	self.handles[s] = i
	mlog.Printf2("inode/inode", "r.Open %d", s)
	return i
}

// Probe reports whether the given sector holds a valid inode record,
// without treating a mismatch as fatal. Used at mount time to detect
// unformatted devices.
func (self *Registry) Probe(s device.Sector) bool {
	var buf [4]byte
	self.cache.Read(s, buf[:], ofsMagic)
	return binary.LittleEndian.Uint32(buf[:]) == Magic
}

// OpenCount returns the number of distinct open handles, for
// inspection.
func (self *Registry) OpenCount() int {
	defer self.lock.Locked()()
	return len(self.handles)
}

// Inode is the in-memory handle of one on-disk inode. The counters
// are atomic: any thread holding an open reference may mutate them.
type Inode struct {
	registry *Registry
	sector   device.Sector

	openCount util.AtomicInt
	removed   util.AtomicInt
	denyWrite util.AtomicInt

	// Serializes extension (and record rewrite) per inode.
	extendLock util.MutexLocked
}

// Sector returns the inode's record sector, its identity.
func (self *Inode) Sector() device.Sector {
	return self.sector
}

// Length returns the current byte length.
func (self *Inode) Length() int64 {
	d := loadInodeDisk(self.registry.cache, self.sector)
	return int64(d.length)
}

// IsDirectory reports the type flag.
func (self *Inode) IsDirectory() bool {
	d := loadInodeDisk(self.registry.cache, self.sector)
	return d.isDir
}

// Reopen takes another reference to an already-open handle.
func (self *Inode) Reopen() *Inode {
	self.openCount.Add(1)
	return self
}

// Remove marks the inode to be reclaimed when the last reference is
// closed. Only a flag transition; nothing is released here.
func (self *Inode) Remove() {
	mlog.Printf2("inode/inode", "i.Remove %d", self.sector)
	self.removed.Set(1)
}

// Close drops one reference. The last close destroys the handle, and
// if the inode was removed, releases every sector it owns including
// the record sector itself.
func (self *Inode) Close() {
	if self.openCount.Add(-1) > 0 {
		return
	}
	r := self.registry
	defer r.lock.Locked()()
	// Somebody may have opened it while we waited for the lock.
	if self.openCount.Get() > 0 {
		return
	}
	delete(r.handles, self.sector)
	if self.removed.Get() != 0 {
		mlog.Printf2("inode/inode", "i.Close %d (reclaiming)", self.sector)
		d := loadInodeDisk(r.cache, self.sector)
		d.freeAll(r.cache, r.alloc)
		r.alloc.Release(self.sector, 1)
		return
	}
	mlog.Printf2("inode/inode", "i.Close %d", self.sector)
}

// DenyWrite disables writes through any handle of this inode.
// May be called at most once per opener.
func (self *Inode) DenyWrite() {
	dw := self.denyWrite.Add(1)
	if dw > self.openCount.Get() {
		log.Panicf("inode %d: deny-write count %d exceeds open count", self.sector, dw)
	}
}

// AllowWrite undoes one DenyWrite.
func (self *Inode) AllowWrite() {
	if self.denyWrite.Add(-1) < 0 {
		log.Panicf("inode %d: allow-write without deny-write", self.sector)
	}
}

// ReadAt reads up to len(p) bytes starting at byte offset. Returns
// the number of bytes read, short if offset+len(p) passes the end of
// the file.
func (self *Inode) ReadAt(p []byte, offset int64) int {
	c := self.registry.cache
	d := loadInodeDisk(c, self.sector)
	length := int64(d.length)
	read := 0
	for len(p) > read && offset < length {
		sectorOfs := int(offset % device.SectorSize)
		chunk := device.SectorSize - sectorOfs
		if left := int(length - offset); chunk > left {
			chunk = left
		}
		if left := len(p) - read; chunk > left {
			chunk = left
		}
		s := d.sectorAt(c, offset)

		// Hint the next sector before blocking on this one.
		if read+chunk < len(p) && offset+int64(chunk) < length {
			c.ReadAhead(d.sectorAt(c, offset+int64(chunk)))
		}

		c.Read(s, p[read:read+chunk], sectorOfs)
		read += chunk
		offset += int64(chunk)
	}
	return read
}

// WriteAt writes up to len(p) bytes at byte offset, extending the
// file as needed. Returns the number of bytes written: 0 when writes
// are denied, and only the portion inside the old length when the
// extension cannot be allocated.
func (self *Inode) WriteAt(p []byte, offset int64) int {
	if self.denyWrite.Get() > 0 {
		return 0
	}
	c := self.registry.cache
	defer self.extendLock.Locked()()
	d := loadInodeDisk(c, self.sector)
	if end := offset + int64(len(p)); end > int64(d.length) {
		// Failure leaves length as it was; the loop below then
		// writes only what fits.
		d.extend(c, self.registry.alloc, self.sector, end)
	}
	length := int64(d.length)
	written := 0
	for len(p) > written && offset < length {
		sectorOfs := int(offset % device.SectorSize)
		chunk := device.SectorSize - sectorOfs
		if left := int(length - offset); chunk > left {
			chunk = left
		}
		if left := len(p) - written; chunk > left {
			chunk = left
		}
		s := d.sectorAt(c, offset)
		c.Write(s, p[written:written+chunk], sectorOfs)
		written += chunk
		offset += int64(chunk)
	}
	return written
}
