/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr  5 09:02:51 2018 mstenber
 * Last modified: Fri Apr 20 14:48:02 2018 mstenber
 * Edit time:     252 min
 *
 */

package inode

import (
	"encoding/binary"
	"log"

	"github.com/fingon/go-sectorfs/cache"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
)

// Magic identifies an inode record on disk.
const Magic = 0x494e4f44

// NumDirect is the number of direct sector pointers in the record.
const NumDirect = 12

// IndirectChildren is the number of pointers an indirect (or
// doubly-indirect) block holds.
const IndirectChildren = device.SectorSize / 4

// MaxDataSectors is the structural maximum number of data sectors one
// inode can map: direct region, indirect region, doubly-indirect
// region.
const MaxDataSectors = NumDirect + IndirectChildren + IndirectChildren*IndirectChildren

// MaxFileSize is MaxDataSectors worth of bytes.
const MaxFileSize = int64(MaxDataSectors) * device.SectorSize

// On-disk record layout, little endian, exactly one sector:
// length u32 | isDir u8 + 3 pad | NumDirect direct pointers |
// indirect | doubly indirect | magic | unused to SectorSize.
const (
	ofsLength   = 0
	ofsIsDir    = 4
	ofsDirect   = 8
	ofsIndirect = ofsDirect + 4*NumDirect
	ofsDoubly   = ofsIndirect + 4
	ofsMagic    = ofsDoubly + 4
)

var zeroSector [device.SectorSize]byte

// inodeDisk is the decoded on-disk inode record. Its pointer
// structure always maps exactly the sectors needed to hold length
// bytes; sectors past what length implies are garbage and never
// dereferenced.
type inodeDisk struct {
	length         uint32
	isDir          bool
	direct         [NumDirect]device.Sector
	indirect       device.Sector
	doublyIndirect device.Sector
}

// loadInodeDisk reads and decodes the record at the given sector. A
// magic mismatch means the index structure is corrupt somewhere and
// is fatal.
func loadInodeDisk(c *cache.Cache, s device.Sector) *inodeDisk {
	var buf [device.SectorSize]byte
	c.ReadSector(s, buf[:])
	if binary.LittleEndian.Uint32(buf[ofsMagic:]) != Magic {
		log.Panicf("inode magic mismatch at sector %d", s)
	}
	d := &inodeDisk{}
	d.length = binary.LittleEndian.Uint32(buf[ofsLength:])
	d.isDir = buf[ofsIsDir] != 0
	for i := 0; i < NumDirect; i++ {
		d.direct[i] = device.Sector(binary.LittleEndian.Uint32(buf[ofsDirect+4*i:]))
	}
	d.indirect = device.Sector(binary.LittleEndian.Uint32(buf[ofsIndirect:]))
	d.doublyIndirect = device.Sector(binary.LittleEndian.Uint32(buf[ofsDoubly:]))
	return d
}

// store encodes and writes the record to the given sector.
func (self *inodeDisk) store(c *cache.Cache, s device.Sector) {
	var buf [device.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[ofsLength:], self.length)
	if self.isDir {
		buf[ofsIsDir] = 1
	}
	for i := 0; i < NumDirect; i++ {
		binary.LittleEndian.PutUint32(buf[ofsDirect+4*i:], uint32(self.direct[i]))
	}
	binary.LittleEndian.PutUint32(buf[ofsIndirect:], uint32(self.indirect))
	binary.LittleEndian.PutUint32(buf[ofsDoubly:], uint32(self.doublyIndirect))
	binary.LittleEndian.PutUint32(buf[ofsMagic:], Magic)
	c.WriteSector(s, buf[:])
}

// dataSectors returns the number of data sectors a file of the given
// byte length occupies.
func dataSectors(length int64) int {
	return int((length + device.SectorSize - 1) / device.SectorSize)
}

// indexSectors returns the number of index sectors (indirect block,
// doubly-indirect block and its children) a file of the given byte
// length needs on top of its data sectors.
func indexSectors(length int64) int {
	left := dataSectors(length)
	if left <= NumDirect {
		return 0
	}
	left -= NumDirect
	if left <= IndirectChildren {
		return 1
	}
	left -= IndirectChildren
	children := (left + IndirectChildren - 1) / IndirectChildren
	return 2 + children
}

// sectorAt translates the byte offset pos to the physical sector
// holding it, chasing indirect blocks through the cache. Returns
// InvalidSector beyond the structural maximum. The caller is
// responsible for staying within length; pointers past it are not
// meaningful.
func (self *inodeDisk) sectorAt(c *cache.Cache, pos int64) device.Sector {
	sn := int(pos / device.SectorSize)
	if sn < NumDirect {
		return self.direct[sn]
	}
	sn -= NumDirect
	var buf [device.SectorSize]byte
	if sn < IndirectChildren {
		c.ReadSector(self.indirect, buf[:])
		return sectorRef(buf[:], sn)
	}
	sn -= IndirectChildren
	if sn < IndirectChildren*IndirectChildren {
		c.ReadSector(self.doublyIndirect, buf[:])
		child := sectorRef(buf[:], sn/IndirectChildren)
		c.ReadSector(child, buf[:])
		return sectorRef(buf[:], sn%IndirectChildren)
	}
	return device.InvalidSector
}

// extend grows the mapped structure to newLength bytes, allocating
// exactly the data and index sectors the growth needs in one batch,
// and writes the record back to recordSector. On allocation failure
// nothing changes and false is returned. Growth that stays within the
// final, already-allocated sector only updates length.
//
// The batch is consumed in fixed order, each region fill taking and
// returning an explicit cursor of data sectors mapped so far.
func (self *inodeDisk) extend(c *cache.Cache, alloc Allocator, recordSector device.Sector, newLength int64) bool {
	cur := int64(self.length)
	if newLength < cur {
		log.Panicf("inode at sector %d: shrink from %d to %d is not supported",
			recordSector, cur, newLength)
	}
	if newLength > MaxFileSize {
		return false
	}
	oldData := dataSectors(cur)
	newData := dataSectors(newLength)
	need := newData + indexSectors(newLength) - oldData - indexSectors(cur)
	mlog.Printf2("inode/disk", "d.extend %d -> %d bytes, %d new sectors", cur, newLength, need)
	if need > 0 {
		sectors, ok := alloc.Allocate(need)
		if !ok {
			return false
		}
		data := sectors[:newData-oldData]
		index := sectors[newData-oldData:]
		cursor := oldData
		cursor, data = self.fillDirect(c, cursor, newData, data)
		cursor, data, index = self.fillIndirect(c, cursor, newData, data, index)
		self.fillDoublyIndirect(c, cursor, newData, data, index)
	}
	self.length = uint32(newLength)
	self.store(c, recordSector)
	return true
}

// fillDirect links data sectors into direct slots [cursor, NumDirect),
// zero-filling each through the cache.
func (self *inodeDisk) fillDirect(c *cache.Cache, cursor, newData int, data []device.Sector) (int, []device.Sector) {
	for ; cursor < newData && cursor < NumDirect; cursor++ {
		s := data[0]
		data = data[1:]
		c.WriteSector(s, zeroSector[:])
		self.direct[cursor] = s
	}
	return cursor, data
}

// fillIndirect links data sectors into the singly-indirect region,
// allocating the indirect block itself when the region is first
// entered.
func (self *inodeDisk) fillIndirect(c *cache.Cache, cursor, newData int, data, index []device.Sector) (int, []device.Sector, []device.Sector) {
	limit := NumDirect + IndirectChildren
	if cursor >= newData || newData <= NumDirect || cursor >= limit {
		return cursor, data, index
	}
	var buf [device.SectorSize]byte
	if cursor == NumDirect {
		self.indirect = index[0]
		index = index[1:]
	} else {
		c.ReadSector(self.indirect, buf[:])
	}
	for ; cursor < newData && cursor < limit; cursor++ {
		s := data[0]
		data = data[1:]
		c.WriteSector(s, zeroSector[:])
		putSectorRef(buf[:], cursor-NumDirect, s)
	}
	c.WriteSector(self.indirect, buf[:])
	return cursor, data, index
}

// fillDoublyIndirect links the remaining data sectors into the
// doubly-indirect region, allocating the doubly-indirect block and
// child indirect blocks as each is first needed.
func (self *inodeDisk) fillDoublyIndirect(c *cache.Cache, cursor, newData int, data, index []device.Sector) {
	base := NumDirect + IndirectChildren
	if cursor >= newData || newData <= base {
		return
	}
	var dbuf [device.SectorSize]byte
	if cursor == base {
		self.doublyIndirect = index[0]
		index = index[1:]
	} else {
		c.ReadSector(self.doublyIndirect, dbuf[:])
	}
	for cursor < newData {
		outer := (cursor - base) / IndirectChildren
		inner := (cursor - base) % IndirectChildren
		var cbuf [device.SectorSize]byte
		child := sectorRef(dbuf[:], outer)
		if inner == 0 {
			child = index[0]
			index = index[1:]
			putSectorRef(dbuf[:], outer, child)
		} else {
			c.ReadSector(child, cbuf[:])
		}
		for ; cursor < newData && inner < IndirectChildren; cursor, inner = cursor+1, inner+1 {
			s := data[0]
			data = data[1:]
			c.WriteSector(s, zeroSector[:])
			putSectorRef(cbuf[:], inner, s)
		}
		c.WriteSector(child, cbuf[:])
	}
	c.WriteSector(self.doublyIndirect, dbuf[:])
}

// freeAll releases every sector the structure owns back to the
// allocator: direct region, then the indirect block's children and
// the indirect block itself, then each doubly-indirect child with its
// children and finally the doubly-indirect block. The inode's own
// sector is the caller's to release.
func (self *inodeDisk) freeAll(c *cache.Cache, alloc Allocator) {
	remaining := dataSectors(int64(self.length))
	mlog.Printf2("inode/disk", "d.freeAll %d data sectors", remaining)
	n := remaining
	if n > NumDirect {
		n = NumDirect
	}
	for i := 0; i < n; i++ {
		alloc.Release(self.direct[i], 1)
	}
	remaining -= n
	if remaining == 0 {
		return
	}

	var buf [device.SectorSize]byte
	c.ReadSector(self.indirect, buf[:])
	n = remaining
	if n > IndirectChildren {
		n = IndirectChildren
	}
	for i := 0; i < n; i++ {
		alloc.Release(sectorRef(buf[:], i), 1)
	}
	alloc.Release(self.indirect, 1)
	remaining -= n
	if remaining == 0 {
		return
	}

	var dbuf [device.SectorSize]byte
	c.ReadSector(self.doublyIndirect, dbuf[:])
	for outer := 0; remaining > 0; outer++ {
		child := sectorRef(dbuf[:], outer)
		c.ReadSector(child, buf[:])
		n = remaining
		if n > IndirectChildren {
			n = IndirectChildren
		}
		for i := 0; i < n; i++ {
			alloc.Release(sectorRef(buf[:], i), 1)
		}
		alloc.Release(child, 1)
		remaining -= n
	}
	alloc.Release(self.doublyIndirect, 1)
}

// sectorRef reads the i'th pointer from an index block's content.
func sectorRef(buf []byte, i int) device.Sector {
	return device.Sector(binary.LittleEndian.Uint32(buf[4*i:]))
}

// putSectorRef writes the i'th pointer into an index block's content.
func putSectorRef(buf []byte, i int, s device.Sector) {
	binary.LittleEndian.PutUint32(buf[4*i:], uint32(s))
}
