/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 10:04:18 2018 mstenber
 * Last modified: Mon Apr 16 11:37:02 2018 mstenber
 * Edit time:     52 min
 *
 */

// device contains the block device abstraction the storage engine
// sits on: a fixed number of fixed-size sectors, addressed by number,
// read and written whole.
package device

import "github.com/fingon/go-sectorfs/codec"

// SectorSize is the unit of all physical I/O, in bytes.
const SectorSize = 512

// Sector is the address of one physical block on a device.
type Sector uint32

// InvalidSector marks an address that does not name any sector.
const InvalidSector = ^Sector(0)

// Device is the shadow behind the throne; it actually stores the
// sectors somewhere. Devices are assumed reliable: an implementation
// that cannot complete a transfer fails hard rather than returning
// garbage, and callers never see partial sectors.
//
// ReadSector/WriteSector transfer exactly SectorSize bytes and panic
// on out-of-range addresses or short buffers.
type Device interface {
	// Close the device, releasing whatever backs it.
	Close()

	// ReadSector reads sector s into p (len(p) == SectorSize).
	ReadSector(s Sector, p []byte)

	// SectorCount returns the fixed capacity of the device.
	SectorCount() Sector

	// WriteSector writes p (len(p) == SectorSize) to sector s.
	WriteSector(s Sector, p []byte)
}

// Configuration is what is needed to set up a device; which fields
// matter depends on the implementation.
type Configuration struct {
	// Directory (bolt, badger) or image file path (file).
	Directory string
	Path      string

	// Sectors is the device capacity when creating a fresh device.
	// Implementations that persist capacity ignore this when the
	// backing store already exists.
	Sectors Sector

	// Codec, if set, transforms sector payloads at rest. Only
	// devices that store variable-length values support it.
	Codec codec.Codec
}

// Metadata is the persistent image header kept by devices whose
// backing store does not imply a capacity by itself.
type Metadata struct {
	Version int
	Sectors Sector
}

// MetadataVersion is bumped if the image header layout changes.
const MetadataVersion = 1
