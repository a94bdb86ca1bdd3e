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

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"gitlab.com/flimzy/testy"
)

// recorder replaces the real sleep, recording requested delays.
func recorder(b *Backoff) *[]time.Duration {
	var delays []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestAttemptDelays(t *testing.T) {
	type tt struct {
		policy   Policy
		attempts int
		want     []time.Duration
	}

	tests := testy.NewTable()
	tests.Add("defaults", tt{
		attempts: 4,
		want:     []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
	})
	tests.Add("capped", tt{
		policy:   Policy{Initial: time.Second, Multiplier: 3, Max: 5 * time.Second},
		attempts: 5,
		want:     []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second},
	})
	tests.Add("single attempt", tt{
		attempts: 1,
		want:     nil,
	})
	tests.Add("max below initial", tt{
		policy:   Policy{Initial: time.Second, Multiplier: 2, Max: time.Millisecond},
		attempts: 3,
		want:     []time.Duration{time.Second, time.Second},
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		b := New(tt.policy)
		delays := recorder(b)
		for i := 0; i < tt.attempts; i++ {
			if err := b.Attempt(context.Background(), func() error { return nil }); err != nil {
				t.Fatal(err)
			}
		}
		if d := testy.DiffInterface(tt.want, *delays); d != nil {
			t.Error(d)
		}
		if got := b.Attempts(); got != tt.attempts {
			t.Errorf("Unexpected attempt count: %d", got)
		}
	})
}

func TestAttemptPassesError(t *testing.T) {
	b := New(Policy{})
	want := errors.New("failed")
	if err := b.Attempt(context.Background(), func() error { return want }); err != want {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestAttemptCancelled(t *testing.T) {
	b := New(Policy{Initial: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	_ = b.Attempt(ctx, func() error { return nil })
	cancel()
	var called bool
	err := b.Attempt(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Unexpected error: %v", err)
	}
	if called {
		t.Error("fn should not run after cancellation")
	}
}

func TestReset(t *testing.T) {
	b := New(Policy{Initial: time.Millisecond, Multiplier: 2, Max: time.Second})
	delays := recorder(b)
	for i := 0; i < 3; i++ {
		_ = b.Attempt(context.Background(), func() error { return nil })
	}
	b.Reset()
	if b.Attempts() != 0 || b.LastDelay() != 0 {
		t.Error("Reset did not clear state")
	}
	_ = b.Wait(context.Background())
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, time.Millisecond}
	if d := testy.DiffInterface(want, *delays); d != nil {
		t.Error(d)
	}
}

func TestRealSleep(t *testing.T) {
	b := New(Policy{Initial: 5 * time.Millisecond, Max: 5 * time.Millisecond})
	_ = b.Attempt(context.Background(), func() error { return nil })
	start := time.Now()
	_ = b.Attempt(context.Background(), func() error { return nil })
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("Second attempt started too soon: %s", elapsed)
	}
}
