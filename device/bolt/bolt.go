/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr  3 08:58:21 2018 mstenber
 * Last modified: Wed Apr 18 13:20:31 2018 mstenber
 * Edit time:     57 min
 *
 */

package bolt

import (
	"encoding/binary"
	"fmt"
	"log"

	bbolt "github.com/coreos/bbolt"
	"github.com/pkg/errors"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
)

var sectorKey = []byte("sector")
var metaKey = []byte("meta")

// boltDevice provides on-disk storage inside one bbolt database.
//
// - sector bucket: big-endian sector number -> (codec-encoded) payload
// - meta bucket: image metadata (capacity), CBOR encoded
//
// Sectors never written have no key and read back as zeroes.
type boltDevice struct {
	device.CodecDeviceBase

	db *bbolt.DB
}

var _ device.Device = &boltDevice{}

func NewBoltDevice(config device.Configuration) (device.Device, error) {
	self := &boltDevice{}
	self.CodecDeviceBase.Init(config)
	db, err := bbolt.Open(fmt.Sprintf("%s/bbolt.db", config.Directory), 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "bbolt.Open")
	}
	self.db = db
	var mb []byte
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sectorKey); err != nil {
			return err
		}
		b, err := tx.CreateBucketIfNotExists(metaKey)
		if err != nil {
			return err
		}
		mb = b.Get(metaKey)
		if mb == nil {
			nmb, err := device.MarshalMetadata(config.Sectors)
			if err != nil {
				return err
			}
			return b.Put(metaKey, nmb)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bbolt metadata")
	}
	if mb != nil {
		if self.Sectors, err = device.UnmarshalMetadata(mb); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		self.Sectors = config.Sectors
	}
	mlog.Printf2("device/bolt/bolt", "bd.New %d sectors", self.Sectors)
	return self, nil
}

func (self *boltDevice) Close() {
	self.db.Close()
}

func (self *boltDevice) ReadSector(s device.Sector, p []byte) {
	k := self.key(s, p)
	var v []byte
	self.db.View(func(tx *bbolt.Tx) error {
		v = tx.Bucket(sectorKey).Get(k)
		return nil
	})
	self.DecodeSector(s, v, p)
}

func (self *boltDevice) SectorCount() device.Sector {
	return self.Sectors
}

func (self *boltDevice) WriteSector(s device.Sector, p []byte) {
	k := self.key(s, p)
	v := self.EncodeSector(s, p)
	err := self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sectorKey).Put(k, v)
	})
	if err != nil {
		log.Panic("bbolt Put", err)
	}
}

func (self *boltDevice) key(s device.Sector, p []byte) []byte {
	if s >= self.Sectors {
		log.Panicf("sector %d out of range (device has %d)", s, self.Sectors)
	}
	if len(p) != device.SectorSize {
		log.Panicf("partial sector transfer of %d bytes", len(p))
	}
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(s))
	return k[:]
}
