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

// Package backoff provides exponential delays between successive attempts
// of an operation.
package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy configures the delay between attempts. The n-th retry waits
// min(Initial * Multiplier^(n-1), Max).
type Policy struct {
	Initial    time.Duration `yaml:"initial"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
}

// DefaultPolicy is used for any zero-valued Policy fields.
var DefaultPolicy = Policy{
	Initial:    100 * time.Millisecond,
	Multiplier: 2,
	Max:        30 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = DefaultPolicy.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	if p.Max <= 0 {
		p.Max = DefaultPolicy.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Backoff tracks the attempts of a single logical operation. A Backoff is
// not safe for concurrent use; create a new one for each operation.
type Backoff struct {
	exp      *cbackoff.ExponentialBackOff
	attempts int
	last     time.Duration
	sleep    func(context.Context, time.Duration) error
}

// New returns a new Backoff for p.
func New(p Policy) *Backoff {
	p = p.withDefaults()
	exp := &cbackoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                cbackoff.Stop,
		Clock:               cbackoff.SystemClock,
	}
	exp.Reset()
	return &Backoff{exp: exp, sleep: sleep}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attempt runs fn. Every attempt after the first is preceded by the next
// delay in the sequence. If ctx is cancelled while waiting, fn is not run
// and ctx's error is returned.
func (b *Backoff) Attempt(ctx context.Context, fn func() error) error {
	if b.attempts > 0 {
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
	b.attempts++
	return fn()
}

// Wait blocks for the next delay in the sequence, without counting an
// attempt.
func (b *Backoff) Wait(ctx context.Context) error {
	b.last = b.exp.NextBackOff()
	return b.sleep(ctx, b.last)
}

// Attempts returns the number of attempts made so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// LastDelay returns the most recent delay, or 0 if none has elapsed.
func (b *Backoff) LastDelay() time.Duration {
	return b.last
}

// Reset restarts the sequence, as though no attempts had been made.
func (b *Backoff) Reset() {
	b.exp.Reset()
	b.attempts = 0
	b.last = 0
}
