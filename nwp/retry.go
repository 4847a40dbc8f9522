/*
Copyright © 2025 the Clyfar authors.
This file is part of Clyfar.

Clyfar is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Clyfar is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Clyfar.  If not, see <http://www.gnu.org/licenses/>.
*/

package nwp

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bingham-research-center/clyfar"
)

// Retrying wraps a Provider with exponential-backoff retries on transient
// fetch errors: 1 s base doubling per attempt with uniform jitter, up to
// MaxRetries additional attempts. ErrNotFound is permanent and returns
// immediately.
type Retrying struct {
	Provider Provider
	// MaxRetries is the number of retries after the first attempt.
	// Zero means the default of 3.
	MaxRetries uint64
}

// Fetch implements Provider.
func (r *Retrying) Fetch(ctx context.Context, init time.Time, lead int, v clyfar.Variable,
	res clyfar.Resolution, member clyfar.Member) (*Grid, error) {

	maxRetries := r.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 1 // uniform jitter up to the interval
	b.MaxElapsedTime = 0

	var grid *Grid
	err := backoff.RetryNotify(
		func() error {
			var err error
			grid, err = r.Provider.Fetch(ctx, init, lead, v, res, member)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		},
		backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx),
		func(err error, d time.Duration) {
			log.Printf("nwp: %v: retrying in %v", err, d)
		},
	)
	if err != nil {
		return nil, err
	}
	return grid, nil
}
