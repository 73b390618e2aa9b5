/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 09:42:12 2018 mstenber
 * Last modified: Fri Apr 13 14:21:30 2018 mstenber
 * Edit time:     6 min
 *
 */

package util

import "sync/atomic"

type AtomicInt int64

func (self *AtomicInt) Get() int64 {
	i := (*int64)(self)
	return atomic.LoadInt64(i)
}

func (self *AtomicInt) GetInt() int {
	return int(self.Get())
}

// Add adds value and returns the new value.
func (self *AtomicInt) Add(value int64) int64 {
	i := (*int64)(self)
	return atomic.AddInt64(i, value)
}

func (self *AtomicInt) AddInt(value int) int {
	return int(self.Add(int64(value)))
}

func (self *AtomicInt) Set(value int64) {
	i := (*int64)(self)
	atomic.StoreInt64(i, value)
}
