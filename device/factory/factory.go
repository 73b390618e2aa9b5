/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr  3 11:15:36 2018 mstenber
 * Last modified: Wed Apr 18 13:31:02 2018 mstenber
 * Edit time:     26 min
 *
 */

package factory

import (
	"sort"

	"github.com/fingon/go-sectorfs/codec"
	"github.com/fingon/go-sectorfs/device"
	"github.com/fingon/go-sectorfs/device/badger"
	"github.com/fingon/go-sectorfs/device/bolt"
	"github.com/fingon/go-sectorfs/device/file"
	"github.com/fingon/go-sectorfs/device/inmemory"
	"github.com/fingon/go-sectorfs/mlog"
)

type factoryCallback func(config device.Configuration) (device.Device, error)

var deviceFactories = map[string]factoryCallback{
	"inmemory": func(config device.Configuration) (device.Device, error) {
		return inmemory.NewInMemoryDevice(config.Sectors), nil
	},
	"file": func(config device.Configuration) (device.Device, error) {
		return file.NewFileDevice(config.Path, config.Sectors)
	},
	"bolt": func(config device.Configuration) (device.Device, error) {
		return bolt.NewBoltDevice(config)
	},
	"badger": func(config device.Configuration) (device.Device, error) {
		return badger.NewBadgerDevice(config)
	}}

func List() []string {
	keys := make([]string, 0, len(deviceFactories))
	for k := range deviceFactories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func New(name string, config device.Configuration) (device.Device, error) {
	mlog.Printf2("device/factory/factory", "f.New %v %v", name, config.Sectors)
	return deviceFactories[name](config)
}

// CryptoDeviceConfiguration adds at-rest encryption on top of plain
// device configuration. Only codec-capable devices (bolt, badger) use
// the codec; for the rest it is ignored.
type CryptoDeviceConfiguration struct {
	device.Configuration
	DeviceName     string
	Password, Salt string
	Iterations     int
}

// NewCryptoDevice creates a device whose stored sector payloads are
// compressed, and encrypted when a password is given.
func NewCryptoDevice(config CryptoDeviceConfiguration) (device.Device, error) {
	mlog.Printf2("device/factory/factory", "f.NewCryptoDevice")
	iterations := config.Iterations
	if iterations == 0 {
		iterations = 12345
	}
	salt := config.Salt
	if salt == "" {
		salt = "asdf"
	}
	c := &codec.CodecChain{}
	if config.Password != "" {
		mlog.Printf2("device/factory/factory", " with encryption + compression")
		c1 := codec.EncryptingCodec{}.Init([]byte(config.Password), []byte(salt), iterations)
		c2 := &codec.CompressingCodec{}
		c = c.Init(c1, c2)
	} else {
		mlog.Printf2("device/factory/factory", " only compression")
		c2 := &codec.CompressingCodec{}
		c = c.Init(c2)
	}
	dconfig := config.Configuration
	dconfig.Codec = c
	return New(config.DeviceName, dconfig)
}
