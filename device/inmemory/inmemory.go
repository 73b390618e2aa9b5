/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 11:14:32 2018 mstenber
 * Last modified: Mon Apr  2 11:30:48 2018 mstenber
 * Edit time:     14 min
 *
 */

package inmemory

import (
	"log"

	"github.com/fingon/go-sectorfs/device"
)

// inMemoryDevice stores sectors in one flat byte slice. Sectors never
// written read back as zeroes, which doubles as the formatted-image
// starting state in tests.
type inMemoryDevice struct {
	buf     []byte
	sectors device.Sector
}

var _ device.Device = &inMemoryDevice{}

func NewInMemoryDevice(sectors device.Sector) device.Device {
	self := &inMemoryDevice{sectors: sectors}
	self.buf = make([]byte, int(sectors)*device.SectorSize)
	return self
}

func (self *inMemoryDevice) Close() {
	self.buf = nil
}

func (self *inMemoryDevice) ReadSector(s device.Sector, p []byte) {
	copy(p, self.buf[self.off(s, p):])
}

func (self *inMemoryDevice) SectorCount() device.Sector {
	return self.sectors
}

func (self *inMemoryDevice) WriteSector(s device.Sector, p []byte) {
	copy(self.buf[self.off(s, p):], p)
}

func (self *inMemoryDevice) off(s device.Sector, p []byte) int {
	if s >= self.sectors {
		log.Panicf("sector %d out of range (device has %d)", s, self.sectors)
	}
	if len(p) != device.SectorSize {
		log.Panicf("partial sector transfer of %d bytes", len(p))
	}
	return int(s) * device.SectorSize
}
