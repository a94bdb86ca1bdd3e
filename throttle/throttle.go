// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package throttle provides a resizable FIFO concurrency limiter.
package throttle

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMax is the default number of concurrent tasks.
const DefaultMax = 20

// ceiling is the fixed size of the underlying semaphore. Capacity not
// currently admitted to callers is held by the Throttler itself.
const ceiling = int64(1) << 30

// Throttler limits the number of tasks running concurrently. Waiting tasks
// are admitted in arrival order.
type Throttler struct {
	sem      *semaphore.Weighted
	inFlight int64

	mu       sync.Mutex
	max      int64
	reserved int64
	// debt is capacity the Throttler must still reclaim after a shrink.
	// Released slots pay it off before returning to the semaphore.
	debt int64
}

// New returns a Throttler admitting at most max concurrent tasks. Values
// below 1 are treated as 1.
func New(max int) *Throttler {
	m := clamp(max)
	t := &Throttler{
		sem:      semaphore.NewWeighted(ceiling),
		max:      m,
		reserved: ceiling - m,
	}
	// A fresh semaphore always has room.
	_ = t.sem.TryAcquire(t.reserved)
	return t
}

func clamp(max int) int64 {
	if max < 1 {
		return 1
	}
	return int64(max)
}

// Max returns the current concurrency limit.
func (t *Throttler) Max() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.max)
}

// InFlight returns the number of tasks currently admitted.
func (t *Throttler) InFlight() int {
	return int(atomic.LoadInt64(&t.inFlight))
}

// SetMax changes the concurrency limit. Raising the limit admits waiting
// tasks immediately. Lowering it takes effect as running tasks finish;
// running tasks are never interrupted.
func (t *Throttler) SetMax(max int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.max = clamp(max)
	diff := ceiling - t.max - t.reserved - t.debt
	if diff < 0 {
		forgiven := min(t.debt, -diff)
		t.debt -= forgiven
		diff += forgiven
	}
	switch {
	case diff < 0:
		t.sem.Release(-diff)
		t.reserved += diff
	case diff > 0:
		if t.sem.TryAcquire(diff) {
			t.reserved += diff
			return
		}
		for diff > 0 && t.sem.TryAcquire(1) {
			t.reserved++
			diff--
		}
		t.debt += diff
	}
}

// Token represents an admitted task. It must be released exactly once;
// subsequent calls to Release are no-ops.
type Token struct {
	t    *Throttler
	once sync.Once
}

// Acquire blocks until a slot is available, or ctx is cancelled.
func (t *Throttler) Acquire(ctx context.Context) (*Token, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	atomic.AddInt64(&t.inFlight, 1)
	return &Token{t: t}, nil
}

// Release returns the slot to the Throttler.
func (tok *Token) Release() {
	tok.once.Do(func() {
		atomic.AddInt64(&tok.t.inFlight, -1)
		tok.t.release()
	})
}

func (t *Throttler) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.debt > 0 {
		t.debt--
		t.reserved++
		return
	}
	t.sem.Release(1)
}

// Run runs fn once a slot is available, and releases the slot when fn
// returns or panics. fn's error is returned unaltered.
func (t *Throttler) Run(ctx context.Context, fn func(context.Context) error) error {
	tok, err := t.Acquire(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	return fn(ctx)
}
