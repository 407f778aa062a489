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

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RemoteClientKey identifies one remote worker endpoint. Two jobs destined
// for the same host and role share a transport; jobs for different hosts
// or roles never do. There is deliberately no package-level singleton here
// — each Dispatcher owns its own pool, so concurrent backups (or a backup
// running alongside tests) never share subprocess state.
type RemoteClientKey struct {
	HostID string
	Role   string
}

// TransportFactory starts a new Transport for key. Called at most once per
// key per pool, lazily, on first use.
type TransportFactory func(ctx context.Context, key RemoteClientKey) (Transport, error)

// RemoteClientPool lazily starts and caches one Transport per
// RemoteClientKey, handing out the same transport to every job addressed
// to that host and role for the lifetime of the pool.
type RemoteClientPool struct {
	factory TransportFactory

	mu      sync.Mutex
	clients map[RemoteClientKey]Transport
}

// NewRemoteClientPool builds an empty pool backed by factory.
func NewRemoteClientPool(factory TransportFactory) *RemoteClientPool {
	return &RemoteClientPool{
		factory: factory,
		clients: make(map[RemoteClientKey]Transport),
	}
}

// Get returns the transport for key, starting one via the factory if this
// is the first request for that key.
func (p *RemoteClientPool) Get(ctx context.Context, key RemoteClientKey) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.clients[key]; ok {
		return t, nil
	}

	t, err := p.factory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("starting transport for %s/%s: %w", key.HostID, key.Role, err)
	}
	p.clients[key] = t
	return t, nil
}

// CloseAll closes every transport the pool has started, collecting the
// first error encountered but attempting to close the rest regardless.
func (p *RemoteClientPool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, t := range p.clients {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing transport for %s/%s: %w", key.HostID, key.Role, err)
		}
	}
	p.clients = make(map[RemoteClientKey]Transport)
	return firstErr
}

// slotPool is a fixed-size counting semaphore, one slot per concurrent
// worker goroutine the orchestrator is allowed to run.
type slotPool struct {
	slots chan struct{}
}

func newSlotPool(size int) *slotPool {
	if size < 1 {
		size = 1
	}
	return &slotPool{slots: make(chan struct{}, size)}
}

func (p *slotPool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *slotPool) release() {
	<-p.slots
}

// pathLocks guarantees that at most one worker is ever writing to a given
// repository path at a time, even if two jobs happen to target the same
// path (a reference copy racing a fresh copy, for instance).
type pathLocks struct {
	mu    sync.Mutex
	inUse map[string]chan struct{}
}

func newPathLocks() *pathLocks {
	return &pathLocks{inUse: make(map[string]chan struct{})}
}

func (l *pathLocks) lock(ctx context.Context, path string) error {
	for {
		l.mu.Lock()
		wait, busy := l.inUse[path]
		if !busy {
			l.inUse[path] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *pathLocks) unlock(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.inUse[path]; ok {
		close(ch)
		delete(l.inUse, path)
	}
}

// backoff computes a delay that doubles with each attempt, capped at max.
// Nothing in this package retries with it; only its own tests call it.
type backoff struct {
	base time.Duration
	max  time.Duration
}

func (b backoff) forAttempt(attempt int) time.Duration {
	d := b.base << uint(attempt) //nolint:gosec
	if d > b.max || d <= 0 {
		return b.max
	}
	return d
}
