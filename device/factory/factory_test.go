/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr  3 11:40:09 2018 mstenber
 * Last modified: Wed Apr 18 13:44:51 2018 mstenber
 * Edit time:     33 min
 *
 */

package factory

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-sectorfs/device"
)

const testSectors = 32

// ProdDevice exercises the shared sector device contract.
func ProdDevice(t *testing.T, factory func() device.Device) {
	dev := factory()
	defer dev.Close()

	assert.Equal(t, dev.SectorCount(), device.Sector(testSectors))

	// Never-written sectors read back as zeroes.
	buf := make([]byte, device.SectorSize)
	zero := make([]byte, device.SectorSize)
	dev.ReadSector(0, buf)
	assert.True(t, bytes.Equal(buf, zero))

	// Whole-sector round trip, multiple sectors.
	for _, s := range []device.Sector{0, 1, testSectors - 1} {
		p := bytes.Repeat([]byte{byte(s) + 1}, device.SectorSize)
		dev.WriteSector(s, p)
		dev.ReadSector(s, buf)
		assert.True(t, bytes.Equal(buf, p))
	}

	// Overwrite wins.
	p := bytes.Repeat([]byte{42}, device.SectorSize)
	dev.WriteSector(1, p)
	dev.ReadSector(1, buf)
	assert.True(t, bytes.Equal(buf, p))
}

func TestDevices(t *testing.T) {
	for _, name := range List() {
		name := name
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			config := device.Configuration{
				Directory: dir,
				Path:      fmt.Sprintf("%s/image", dir),
				Sectors:   testSectors,
			}
			ProdDevice(t, func() device.Device {
				dev, err := New(name, config)
				assert.Nil(t, err)
				return dev
			})
		})
	}
}

func TestCryptoDevice(t *testing.T) {
	dir := t.TempDir()
	config := CryptoDeviceConfiguration{
		Configuration: device.Configuration{Directory: dir, Sectors: testSectors},
		DeviceName:    "bolt",
		Password:      "siikret",
		Salt:          "salt",
		Iterations:    16,
	}

	p := bytes.Repeat([]byte{7}, device.SectorSize)
	dev, err := NewCryptoDevice(config)
	assert.Nil(t, err)
	dev.WriteSector(3, p)
	dev.Close()

	// Same password reads it back.
	dev, err = NewCryptoDevice(config)
	assert.Nil(t, err)
	buf := make([]byte, device.SectorSize)
	dev.ReadSector(3, buf)
	assert.True(t, bytes.Equal(buf, p))
	dev.Close()
}

func TestFilePersistence(t *testing.T) {
	dir := t.TempDir()
	path := fmt.Sprintf("%s/image", dir)
	config := device.Configuration{Path: path, Sectors: testSectors}

	p := bytes.Repeat([]byte{9}, device.SectorSize)
	dev, err := New("file", config)
	assert.Nil(t, err)
	dev.WriteSector(5, p)
	dev.Close()

	// Capacity comes from the image itself on reopen.
	dev, err = New("file", device.Configuration{Path: path})
	assert.Nil(t, err)
	assert.Equal(t, dev.SectorCount(), device.Sector(testSectors))
	buf := make([]byte, device.SectorSize)
	dev.ReadSector(5, buf)
	assert.True(t, bytes.Equal(buf, p))
	dev.Close()
}
