/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package concurrency contains small synchronization primitives shared by
// the orchestrator and the backup controller.
package concurrency

import "sync"

// Executed is a broadcast-once flag: any number of goroutines can Wait on
// it, and the first Broadcast call wakes all of them and makes every future
// Wait return immediately.
type Executed struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
}

// NewExecuted creates a new, not-yet-executed flag.
func NewExecuted() *Executed {
	e := &Executed{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Broadcast marks the flag as executed and wakes every waiter. Safe to call
// more than once; only the first call has an effect.
func (e *Executed) Broadcast() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	e.cond.Broadcast()
}

// Wait blocks until Broadcast has been called, returning immediately if it
// already has.
func (e *Executed) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.done {
		e.cond.Wait()
	}
}

// IsDone reports whether Broadcast has already been called, without
// blocking.
func (e *Executed) IsDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
