// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package par runs a bounded set of work items in parallel.
package par

import (
	"sync"
)

// Work manages a set of work items to be executed in parallel, at most once each.
// The items in the set must all be valid map keys.
//
// Unlike its cmd/go ancestor, Work is fail-fast: the first error returned by
// f stops runners from picking up further items, and Do reports that error.
type Work[T comparable] struct {
	f       func(T) error
	running int

	mu      sync.Mutex
	added   map[T]bool // items added to set
	todo    []T        // items yet to be run, in insertion order
	wait    sync.Cond  // wait when todo is empty
	waiting int        // number of runners waiting for todo
	err     error      // first failure
}

func (w *Work[T]) init() {
	if w.added == nil {
		w.added = make(map[T]bool)
	}
}

// Add adds item to the work set, if it hasn't already been added.
func (w *Work[T]) Add(item T) {
	w.mu.Lock()
	w.init()
	if !w.added[item] {
		w.added[item] = true
		w.todo = append(w.todo, item)
		if w.waiting > 0 {
			w.wait.Signal()
		}
	}
	w.mu.Unlock()
}

// Do runs f in parallel on items from the work set,
// with at most n invocations of f running at a time.
// It returns when everything added to the work set has been processed,
// or, after a failure, when every in-flight invocation has returned.
// The returned error is the first one produced by f.
// Do should only be used once on a given Work.
func (w *Work[T]) Do(n int, f func(item T) error) error {
	if n < 1 {
		panic("par.Work.Do: n < 1")
	}
	if w.running >= 1 {
		panic("par.Work.Do: already called Do")
	}

	w.running = n
	w.f = f
	w.wait.L = &w.mu

	var wg sync.WaitGroup
	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runner()
		}()
	}
	w.runner()
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// runner executes work in w until both nothing is left to do
// and all the runners are waiting for work.
// (Then all the runners return.)
func (w *Work[T]) runner() {
	for {
		w.mu.Lock()
		for len(w.todo) == 0 || w.err != nil {
			if w.err != nil {
				// Drop everything still queued.
				w.todo = nil
			}
			w.waiting++
			if w.waiting == w.running {
				// All done.
				w.wait.Broadcast()
				w.mu.Unlock()
				return
			}
			w.wait.Wait()
			w.waiting--
		}

		item := w.todo[0]
		w.todo = w.todo[1:]
		w.mu.Unlock()

		if err := w.f(item); err != nil {
			w.mu.Lock()
			if w.err == nil {
				w.err = err
			}
			w.wait.Broadcast()
			w.mu.Unlock()
		}
	}
}
