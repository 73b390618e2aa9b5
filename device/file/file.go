/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 11:35:19 2018 mstenber
 * Last modified: Wed Apr 18 13:03:55 2018 mstenber
 * Edit time:     38 min
 *
 */

package file

import (
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
)

// fileDevice keeps the whole device in one flat image file, sector i
// at byte offset i * SectorSize. Capacity comes from the file size
// when the image exists, and from the configuration when it is
// created.
type fileDevice struct {
	f       *os.File
	sectors device.Sector
}

var _ device.Device = &fileDevice{}

func NewFileDevice(path string, sectors device.Sector) (device.Device, error) {
	self := &fileDevice{}
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if os.IsNotExist(err) {
		if sectors == 0 {
			return nil, errors.Errorf("image %s does not exist and no capacity given", path)
		}
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return nil, errors.Wrapf(err, "creating image %s", path)
		}
		if err = f.Truncate(int64(sectors) * device.SectorSize); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "sizing image %s", path)
		}
		self.f = f
		self.sectors = sectors
		mlog.Printf2("device/file/file", "fd.New created %s (%d sectors)", path, sectors)
		return self, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening image %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat image %s", path)
	}
	if fi.Size()%device.SectorSize != 0 {
		f.Close()
		return nil, errors.Errorf("image %s size %d is not sector aligned", path, fi.Size())
	}
	self.f = f
	self.sectors = device.Sector(fi.Size() / device.SectorSize)
	mlog.Printf2("device/file/file", "fd.New opened %s (%d sectors)", path, self.sectors)
	return self, nil
}

func (self *fileDevice) Close() {
	if err := self.f.Close(); err != nil {
		log.Panic(err)
	}
}

func (self *fileDevice) ReadSector(s device.Sector, p []byte) {
	if _, err := self.f.ReadAt(p, self.off(s, p)); err != nil {
		log.Panic(err)
	}
}

func (self *fileDevice) SectorCount() device.Sector {
	return self.sectors
}

func (self *fileDevice) WriteSector(s device.Sector, p []byte) {
	if _, err := self.f.WriteAt(p, self.off(s, p)); err != nil {
		log.Panic(err)
	}
}

func (self *fileDevice) off(s device.Sector, p []byte) int64 {
	if s >= self.sectors {
		log.Panicf("sector %d out of range (device has %d)", s, self.sectors)
	}
	if len(p) != device.SectorSize {
		log.Panicf("partial sector transfer of %d bytes", len(p))
	}
	return int64(s) * device.SectorSize
}
