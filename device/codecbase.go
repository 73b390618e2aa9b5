/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr  3 09:20:44 2018 mstenber
 * Last modified: Wed Apr 18 13:12:09 2018 mstenber
 * Edit time:     29 min
 *
 */

package device

import (
	"encoding/binary"
	"log"

	ucodec "github.com/ugorji/go/codec"

	"github.com/fingon/go-sectorfs/codec"
)

// CodecDeviceBase is a base class for devices that store sector
// payloads as variable-length values and can therefore run them
// through a Codec (compression, encryption) at rest. The sector
// address acts as additional authenticated data so sectors cannot be
// transplanted within an image undetected.
type CodecDeviceBase struct {
	Sectors Sector
	Codec   codec.Codec
}

func (self *CodecDeviceBase) Init(config Configuration) {
	self.Codec = config.Codec
	self.Sectors = config.Sectors
}

// EncodeSector produces the at-rest form of p for sector s.
func (self *CodecDeviceBase) EncodeSector(s Sector, p []byte) []byte {
	if self.Codec == nil {
		v := make([]byte, len(p))
		copy(v, p)
		return v
	}
	v, err := self.Codec.EncodeBytes(p, sectorAd(s))
	if err != nil {
		log.Panic("sector encode failed", err)
	}
	return v
}

// DecodeSector fills p from the at-rest form v; nil v means the
// sector was never written and reads back as zeroes.
func (self *CodecDeviceBase) DecodeSector(s Sector, v []byte, p []byte) {
	if v == nil {
		for i := range p {
			p[i] = 0
		}
		return
	}
	if self.Codec == nil {
		copy(p, v)
		return
	}
	d, err := self.Codec.DecodeBytes(v, sectorAd(s))
	if err != nil {
		log.Panic("sector decode failed", err)
	}
	if len(d) != SectorSize {
		log.Panicf("decoded sector %d has %d bytes", s, len(d))
	}
	copy(p, d)
}

func sectorAd(s Sector) []byte {
	var ad [4]byte
	binary.BigEndian.PutUint32(ad[:], uint32(s))
	return ad[:]
}

// MarshalMetadata encodes the image header as CBOR.
func MarshalMetadata(sectors Sector) (b []byte, err error) {
	var ch ucodec.CborHandle
	md := Metadata{Version: MetadataVersion, Sectors: sectors}
	err = ucodec.NewEncoderBytes(&b, &ch).Encode(md)
	return
}

// UnmarshalMetadata decodes the image header and validates it.
func UnmarshalMetadata(b []byte) (sectors Sector, err error) {
	var ch ucodec.CborHandle
	var md Metadata
	if err = ucodec.NewDecoderBytes(b, &ch).Decode(&md); err != nil {
		return
	}
	if md.Version != MetadataVersion {
		log.Panicf("unsupported image metadata version %d", md.Version)
	}
	sectors = md.Sectors
	return
}
