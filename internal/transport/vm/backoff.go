// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// backoff retries transient infrastructure calls (VM create, file transfer)
// with exponential backoff, gated by a shared token-bucket limiter so that
// many tasks retrying concurrently don't collectively hammer the EC2 API
// faster than a single task would on its own.
type backoff struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxAttempts     int
	limiter         *rate.Limiter
}

// defaultBackoff matches spec's "typically 3 attempts" transport-provisioning
// retry policy. The limiter caps provisioning calls across every task a
// Transport is currently dispatching to 5/s with a burst of 3, independent
// of how many tasks are concurrently retrying.
func defaultBackoff() backoff {
	return backoff{
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
		multiplier:      2.0,
		maxAttempts:     3,
		limiter:         rate.NewLimiter(rate.Limit(5), 3),
	}
}

// run calls fn until it succeeds, ctx is done, or maxAttempts is exhausted.
// Each attempt, including the first, waits for the shared limiter before
// calling fn.
func (b backoff) run(ctx context.Context, fn func() error) error {
	interval := b.initialInterval
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == b.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * b.multiplier)
		if interval > b.maxInterval {
			interval = b.maxInterval
		}
	}

	return lastErr
}
