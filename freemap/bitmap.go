/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  9 08:40:26 2018 mstenber
 * Last modified: Mon Apr  9 09:55:41 2018 mstenber
 * Edit time:     44 min
 *
 */

package freemap

import "log"

// bitmap is a byte-packed bit array, bit i at buf[i/8] bit i%8. The
// backing slice is also the exact persistent representation.
type bitmap struct {
	bits int
	buf  []byte
}

func newBitmap(bits int) *bitmap {
	return &bitmap{bits: bits, buf: make([]byte, (bits+7)/8)}
}

func (self *bitmap) check(i int) {
	if i < 0 || i >= self.bits {
		log.Panicf("bit %d out of range (bitmap has %d)", i, self.bits)
	}
}

func (self *bitmap) test(i int) bool {
	self.check(i)
	return self.buf[i/8]&(1<<uint(i%8)) != 0
}

func (self *bitmap) mark(i int) {
	self.check(i)
	self.buf[i/8] |= 1 << uint(i%8)
}

func (self *bitmap) reset(i int) {
	self.check(i)
	self.buf[i/8] &^= 1 << uint(i%8)
}

// all reports whether every bit in [start, start+count) is set.
func (self *bitmap) all(start, count int) bool {
	for i := start; i < start+count; i++ {
		if !self.test(i) {
			return false
		}
	}
	return true
}

// countClear returns the number of clear bits.
func (self *bitmap) countClear() int {
	n := 0
	for i := 0; i < self.bits; i++ {
		if !self.test(i) {
			n++
		}
	}
	return n
}

// bytes returns the persistent representation. Mutating the bitmap
// mutates it in place.
func (self *bitmap) bytes() []byte {
	return self.buf
}

// setBytes replaces the bitmap content from its persistent
// representation.
func (self *bitmap) setBytes(b []byte) {
	if len(b) != len(self.buf) {
		log.Panicf("bitmap size mismatch: %d != %d bytes", len(b), len(self.buf))
	}
	copy(self.buf, b)
}
