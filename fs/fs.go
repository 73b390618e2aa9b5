/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr 10 08:31:09 2018 mstenber
 * Last modified: Fri Apr 20 17:26:50 2018 mstenber
 * Edit time:     73 min
 *
 */

// fs owns the storage engine as one object: device, buffer cache,
// free-space allocator and inode registry, constructed once at mount
// and torn down once at unmount. Collaborators (directory layer, open
// file layer, demand paging) hold the Fs and go through its parts.
package fs

import (
	"time"

	"github.com/pkg/errors"

	"github.com/fingon/go-sectorfs/cache"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/freemap"
	"github.com/fingon/go-sectorfs/inode"
	"github.com/fingon/go-sectorfs/mlog"
)

type Fs struct {
	dev     device.Device
	cache   *cache.Cache
	freeMap *freemap.FreeMap
	inodes  *inode.Registry
}

// New mounts the engine on dev. With format, the device is laid out
// fresh: free-map file at sector 0, empty root directory inode at
// sector 1. Without it, the free-map inode must already be there.
// The device is the caller's until New succeeds, and the engine's
// after (Close closes it).
func New(dev device.Device, format bool) (*Fs, error) {
	return NewWithFlushPeriod(dev, format, 0)
}

// NewWithFlushPeriod is New with an explicit background write-behind
// period (0 default, negative disables; see cache.New).
func NewWithFlushPeriod(dev device.Device, format bool, flushPeriod time.Duration) (*Fs, error) {
	mlog.Printf2("fs/fs", "fs.New format=%v", format)
	self := &Fs{dev: dev}
	self.cache = cache.New(dev, flushPeriod)
	self.freeMap = freemap.New(dev.SectorCount())
	self.inodes = inode.NewRegistry(self.cache, self.freeMap)

	if format {
		self.freeMap.Create(self.inodes)
		if !self.inodes.Create(freemap.RootDirSector, 0, true) {
			self.freeMap.Close()
			self.cache.Close()
			return nil, errors.New("root directory creation failed")
		}
		return self, nil
	}
	if !self.inodes.Probe(freemap.FreeMapSector) {
		self.cache.Close()
		return nil, errors.Errorf("device with %d sectors is not formatted", dev.SectorCount())
	}
	self.freeMap.Open(self.inodes)
	return self, nil
}

// Cache returns the buffer cache fronting the device.
func (self *Fs) Cache() *cache.Cache {
	return self.cache
}

// FreeMap returns the free-space allocator.
func (self *Fs) FreeMap() *freemap.FreeMap {
	return self.freeMap
}

// Inodes returns the inode registry.
func (self *Fs) Inodes() *inode.Registry {
	return self.inodes
}

// RootDir opens the root directory inode.
func (self *Fs) RootDir() *inode.Inode {
	return self.inodes.Open(freemap.RootDirSector)
}

// Close unmounts: flushes everything dirty, stops the background
// write-behind task and closes the device.
func (self *Fs) Close() {
	mlog.Printf2("fs/fs", "fs.Close")
	self.freeMap.Close()
	self.cache.Close()
	self.dev.Close()
}
