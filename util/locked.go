/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 09:31:04 2018 mstenber
 * Last modified: Mon Apr  2 09:40:55 2018 mstenber
 * Edit time:     7 min
 *
 */

package util

import "sync"

// MutexLocked is a mutex with a convenience feature: just
// defer x.Locked()().
type MutexLocked sync.Mutex

func (self *MutexLocked) Lock() {
	mut := (*sync.Mutex)(self)
	mut.Lock()
}

func (self *MutexLocked) Unlock() {
	mut := (*sync.Mutex)(self)
	mut.Unlock()
}

func (self *MutexLocked) Locked() (unlock func()) {
	self.Lock()
	return func() {
		self.Unlock()
	}
}
