/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr  3 10:02:13 2018 mstenber
 * Last modified: Wed Apr 18 13:26:40 2018 mstenber
 * Edit time:     48 min
 *
 */

package badger

import (
	"encoding/binary"
	"log"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"

	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/mlog"
)

// badgerDevice provides on-disk storage.
//
// - key prefix 's' + big-endian sector number -> (codec-encoded) payload
// - key 'm' -> image metadata, CBOR encoded
type badgerDevice struct {
	device.CodecDeviceBase
	db *badger.DB
}

var _ device.Device = &badgerDevice{}

var metaKey = []byte("m")

func NewBadgerDevice(config device.Configuration) (device.Device, error) {
	self := &badgerDevice{}
	self.CodecDeviceBase.Init(config)
	opts := badger.DefaultOptions
	opts.Dir = config.Directory
	opts.ValueDir = config.Directory
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badger.Open")
	}
	self.db = db
	var mb []byte
	err = db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(metaKey)
		if err != nil {
			return err
		}
		mb, err = i.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		self.Sectors = config.Sectors
		mb, err = device.MarshalMetadata(config.Sectors)
		if err == nil {
			err = db.Update(func(txn *badger.Txn) error {
				return txn.Set(metaKey, mb)
			})
		}
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "badger metadata")
		}
		mlog.Printf2("device/badger/badger", "bad.New fresh image, %d sectors", self.Sectors)
		return self, nil
	}
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "badger metadata")
	}
	if self.Sectors, err = device.UnmarshalMetadata(mb); err != nil {
		db.Close()
		return nil, err
	}
	mlog.Printf2("device/badger/badger", "bad.New %d sectors", self.Sectors)
	return self, nil
}

func (self *badgerDevice) Close() {
	self.db.Close()
}

func (self *badgerDevice) ReadSector(s device.Sector, p []byte) {
	k := self.key(s, p)
	var v []byte
	err := self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(k)
		if err != nil {
			return err
		}
		v, err = i.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		v = nil
	} else if err != nil {
		log.Panic("badger Get", err)
	}
	self.DecodeSector(s, v, p)
}

func (self *badgerDevice) SectorCount() device.Sector {
	return self.Sectors
}

func (self *badgerDevice) WriteSector(s device.Sector, p []byte) {
	k := self.key(s, p)
	v := self.EncodeSector(s, p)
	err := self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
	if err != nil {
		log.Panic("badger Set", err)
	}
}

func (self *badgerDevice) key(s device.Sector, p []byte) []byte {
	if s >= self.Sectors {
		log.Panicf("sector %d out of range (device has %d)", s, self.Sectors)
	}
	if len(p) != device.SectorSize {
		log.Panicf("partial sector transfer of %d bytes", len(p))
	}
	k := make([]byte, 5)
	k[0] = 's'
	binary.BigEndian.PutUint32(k[1:], uint32(s))
	return k
}
