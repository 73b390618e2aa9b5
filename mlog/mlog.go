/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  2 09:12:41 2018 mstenber
 * Last modified: Thu Apr 12 10:02:17 2018 mstenber
 * Edit time:     41 min
 *
 */

// mlog is maybe-log: a thin wrapper around the standard 'log' that
// prints only what has been asked for. The first Printf2 argument is
// a file identifier ("pkg/file"); output is enabled for identifiers
// matching the pattern given with the -mlog flag (or MLOG environment
// variable). When nothing matches, a call costs one atomic load.
package mlog

import (
	"flag"
	"log"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
)

var logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

var status int32 = stateUninitialized

var mutex sync.Mutex

// Everything below is used only with mutex held
var flagPattern *string
var patternRegexp *regexp.Regexp
var fileEnabled map[string]bool

func init() {
	flagPattern = flag.String("mlog", "", "Enable logging based on the given file identifier regular expression")
}

// IsEnabled can be used to check if mlog is in use at all before
// doing something expensive.
func IsEnabled() bool {
	st := atomic.LoadInt32(&status)
	if st == stateUninitialized {
		mutex.Lock()
		defer mutex.Unlock()
		initialize()
		st = atomic.LoadInt32(&status)
	}
	return st == stateEnabled
}

// SetPattern overrides the flag/environment-provided pattern. The
// returned undo function restores the previous state.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	old := patternRegexp
	setPattern(p)
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		patternRegexp = old
		fileEnabled = make(map[string]bool)
		if old == nil {
			atomic.StoreInt32(&status, stateDisabled)
		} else {
			atomic.StoreInt32(&status, stateEnabled)
		}
	}
}

// SetLogger overrides the output logger, mostly for tests.
func SetLogger(l *log.Logger) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	old := logger
	logger = l
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = old
	}
}

// Printf2 prints the given format if the file identifier matches the
// active pattern.
func Printf2(file, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	mutex.Lock()
	defer mutex.Unlock()
	enabled, ok := fileEnabled[file]
	if !ok {
		enabled = patternRegexp != nil && patternRegexp.MatchString(file)
		fileEnabled[file] = enabled
	}
	if !enabled {
		return
	}
	logger.Printf(file+" "+format, args...)
}

func initialize() {
	p := ""
	if flagPattern != nil && *flagPattern != "" {
		p = *flagPattern
	} else {
		p = os.Getenv("MLOG")
	}
	setPattern(p)
}

func setPattern(p string) {
	fileEnabled = make(map[string]bool)
	if p == "" {
		patternRegexp = nil
		atomic.StoreInt32(&status, stateDisabled)
		return
	}
	patternRegexp = regexp.MustCompile(p)
	atomic.StoreInt32(&status, stateEnabled)
}
