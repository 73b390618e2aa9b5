/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr  4 08:44:27 2018 mstenber
 * Last modified: Thu Apr 19 15:58:36 2018 mstenber
 * Edit time:     184 min
 *
 */

// cache is the buffer cache: a fixed set of sector-sized slots that
// fronts every device transfer the engine performs. Reads and writes
// of any byte range inside one sector go through here; the cache
// decides what is memory-resident and what has to be fetched or
// evicted, and writes dirty slots back lazily.
package cache

import (
	"log"
	"sync"
	"time"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
	"github.com/fingon/go-sectorfs/util"
)

// NumEntries is the number of slots; at most this many sectors are
// memory-resident at a time.
const NumEntries = 64

// DefaultFlushPeriod is how often the background task writes dirty
// slots back when the caller does not say otherwise.
const DefaultFlushPeriod = 500 * time.Millisecond

type entry struct {
	sector   device.Sector
	occupied bool
	dirty    bool

	// Last access in c.tick units; eviction victimizes the lowest.
	t int64

	data [device.SectorSize]byte
}

// Cache serializes all device sector I/O. One lock covers slot
// lookup, eviction selection and slot content; fill and write-back
// I/O happens with the lock held, so a slot can never be observed
// half-bound and a sector can never land in two slots. A concurrent
// miss on the same sector just blocks until the first fill is done.
type Cache struct {
	dev  device.Device
	lock util.MutexLocked
	tick util.AtomicInt

	// Set under lock at Close; pending read-aheads drop out on it.
	closed     bool
	readAheads sync.WaitGroup

	entries [NumEntries]entry

	reads, writes util.AtomicInt

	flushPeriod time.Duration
	stopped     chan struct{}
	flusherDone chan struct{}
}

// New sets up the cache in front of dev and starts the background
// write-behind task. flushPeriod 0 means DefaultFlushPeriod; negative
// disables the background task (tests).
func New(dev device.Device, flushPeriod time.Duration) *Cache {
	self := &Cache{dev: dev, flushPeriod: flushPeriod}
	if self.flushPeriod == 0 {
		self.flushPeriod = DefaultFlushPeriod
	}
	self.stopped = make(chan struct{})
	self.flusherDone = make(chan struct{})
	if self.flushPeriod > 0 {
		go self.flusher()
	} else {
		close(self.flusherDone)
	}
	return self
}

// Read copies len(p) bytes from the given sector, starting at byte
// ofs within it. The range must not cross the sector boundary. On
// return p reflects the most recent preceding Write to the sector,
// from any caller.
func (self *Cache) Read(s device.Sector, p []byte, ofs int) {
	checkRange(s, p, ofs)
	defer self.lock.Locked()()
	e := self.getEntry(s)
	copy(p, e.data[ofs:ofs+len(p)])
	self.reads.Add(1)
}

// Write copies len(p) bytes into the given sector at byte ofs,
// marking the slot dirty. The range must not cross the sector
// boundary.
func (self *Cache) Write(s device.Sector, p []byte, ofs int) {
	checkRange(s, p, ofs)
	defer self.lock.Locked()()
	e := self.getEntry(s)
	copy(e.data[ofs:ofs+len(p)], p)
	e.dirty = true
	self.writes.Add(1)
}

// ReadSector reads the whole sector into p.
func (self *Cache) ReadSector(s device.Sector, p []byte) {
	self.Read(s, p, 0)
}

// WriteSector writes the whole sector from p.
func (self *Cache) WriteSector(s device.Sector, p []byte) {
	self.Write(s, p, 0)
}

// ReadAhead schedules the sector to be fetched without blocking the
// caller. Best effort: no completion signal, and a no-op if the
// sector is already resident (or becomes so first).
func (self *Cache) ReadAhead(s device.Sector) {
	self.readAheads.Add(1)
	go func() {
		defer self.readAheads.Done()
		defer self.lock.Locked()()
		if self.closed {
			return
		}
		mlog.Printf2("cache/cache", "c.ReadAhead %d", s)
		self.getEntry(s)
	}()
}

// FlushAll synchronously writes every dirty occupied slot back to the
// device. Used at unmount and by the background task.
func (self *Cache) FlushAll() {
	defer self.lock.Locked()()
	self.flushLocked()
}

// Close drains pending read-aheads, stops the background task and
// flushes whatever is left. The cache must not be used afterwards;
// in particular the device may be closed once Close returns.
func (self *Cache) Close() {
	self.lock.Lock()
	self.closed = true
	self.lock.Unlock()
	self.readAheads.Wait()
	close(self.stopped)
	<-self.flusherDone
	self.FlushAll()
}

// Stats returns the number of Read and Write calls served so far.
func (self *Cache) Stats() (reads, writes int64) {
	return self.reads.Get(), self.writes.Get()
}

func (self *Cache) flusher() {
	defer close(self.flusherDone)
	ticker := time.NewTicker(self.flushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			self.FlushAll()
		case <-self.stopped:
			return
		}
	}
}

func (self *Cache) flushLocked() {
	for i := range self.entries {
		e := &self.entries[i]
		if e.occupied && e.dirty {
			self.dev.WriteSector(e.sector, e.data[:])
			e.dirty = false
		}
	}
}

// getEntry resolves a sector to a slot, filling or evicting as
// needed. Caller must hold the lock.
func (self *Cache) getEntry(s device.Sector) *entry {
	var free *entry
	var victim *entry
	for i := range self.entries {
		e := &self.entries[i]
		if e.occupied && e.sector == s {
			e.t = self.tick.Add(1)
			return e
		}
		if !e.occupied {
			if free == nil {
				free = e
			}
		} else if victim == nil || e.t < victim.t {
			// Strict < keeps the lowest index on ties.
			victim = e
		}
	}

	e := free
	if e == nil {
		e = victim
		mlog.Printf2("cache/cache", "c.getEntry evict %d for %d", e.sector, s)
		if e.dirty {
			self.dev.WriteSector(e.sector, e.data[:])
			e.dirty = false
		}
	}
	e.sector = s
	e.occupied = true
	e.dirty = false
	self.dev.ReadSector(s, e.data[:])
	e.t = self.tick.Add(1)
	return e
}

func checkRange(s device.Sector, p []byte, ofs int) {
	if ofs < 0 || ofs+len(p) > device.SectorSize {
		log.Panicf("transfer of %d bytes at offset %d crosses sector %d boundary",
			len(p), ofs, s)
	}
}
