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

package forecast

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bingham-research-center/clyfar"
	"github.com/bingham-research-center/clyfar/fis"
	"github.com/bingham-research-center/clyfar/preprocess"
)

// Driver runs the whole ensemble: it fans the per-(member, variable)
// reductions out over a bounded worker pool, finalizes each member
// through the fuzzy inference loop, and aggregates daily maxima. Member
// pipelines share no mutable state; each worker owns its fetched grids
// for the duration of its reduction.
type Driver struct {
	Reducer *preprocess.Reducer
	Engine  *fis.FIS

	// Workers bounds pool concurrency; zero means 4.
	Workers int
	// Timeout bounds the whole run; zero means no limit. On expiry,
	// in-flight fetches finish but no new fetches start, and members
	// lacking all variables are discarded.
	Timeout time.Duration
	// Percentiles to defuzzify at each timestamp; nil means the
	// default {10, 50, 90}.
	Percentiles []int
	// DeltaH is the forecast time step in hours; zero means the
	// default.
	DeltaH int
	// MaxH is the forecast horizon in hours; zero means the full
	// lo-resolution horizon.
	MaxH int
	// UseSnowObservation enables the observation offset hook:
	// ObservedSnow (mm, may legitimately be zero) shifts each member's
	// snow series toward the representative observed depth.
	UseSnowObservation bool
	ObservedSnow       float64
	// Serial disables the pool and processes jobs one at a time, for
	// debugging.
	Serial bool

	Log *logrus.Logger
}

// Result holds the completed ensemble for one cycle.
type Result struct {
	Init     time.Time
	Frames   map[clyfar.Member]*clyfar.MemberFrame
	DailyMax map[clyfar.Member]*clyfar.DailyMaxFrame
	// Series holds the reduced per-variable series for each completed
	// member, for persistence alongside the frames.
	Series map[clyfar.Member]map[clyfar.Variable]*clyfar.VariableSeries
	// SnowOffsets records the observation offsets applied per member
	// (mm); empty when no observation was supplied.
	SnowOffsets map[clyfar.Member]float64
}

type reductionJob struct {
	member   clyfar.Member
	variable clyfar.Variable
}

type reductionResult struct {
	job    reductionJob
	series *clyfar.VariableSeries
	err    error
}

func (d *Driver) logger() *logrus.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

// Run executes the ensemble cycle for the given members. Members whose
// reductions fail entirely for any FIS input variable are discarded with
// an error-level log (a failed temperature reduction does not discard the
// member); Run fails only when no member completes.
func (d *Driver) Run(ctx context.Context, init time.Time, members []clyfar.Member,
	loc *time.Location) (*Result, error) {

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 4
	}
	if d.Serial {
		workers = 1
	}
	deltaH := d.DeltaH
	if deltaH <= 0 {
		deltaH = clyfar.DefaultDeltaH
	}
	maxH := d.MaxH
	if maxH <= 0 {
		maxH = clyfar.LoRes.MaxLead()
	}
	percentiles := d.Percentiles
	if percentiles == nil {
		percentiles = clyfar.DefaultPercentiles
	}
	log := d.logger()

	jobs := make([]reductionJob, 0, len(members)*len(clyfar.Variables))
	for _, m := range members {
		for _, v := range clyfar.Variables {
			jobs = append(jobs, reductionJob{member: m, variable: v})
		}
	}

	jobChan := make(chan reductionJob, len(jobs))
	resultChan := make(chan reductionResult, len(jobs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				// Stop picking up work once the run is cancelled;
				// the current fetch is never interrupted mid-flight.
				if ctx.Err() != nil {
					resultChan <- reductionResult{job: job, err: ctx.Err()}
					continue
				}
				series, err := d.runReduction(ctx, init, job, deltaH, maxH, loc)
				resultChan <- reductionResult{job: job, series: series, err: err}
			}
		}()
	}
	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)
	wg.Wait()
	close(resultChan)

	byMember := make(map[clyfar.Member]map[clyfar.Variable]*clyfar.VariableSeries)
	for res := range resultChan {
		if res.err != nil {
			log.WithFields(logrus.Fields{
				"member":   res.job.member.GEFSLabel(),
				"variable": res.job.variable.String(),
			}).Errorf("reduction failed: %v", res.err)
			continue
		}
		if byMember[res.job.member] == nil {
			byMember[res.job.member] = make(map[clyfar.Variable]*clyfar.VariableSeries)
		}
		byMember[res.job.member][res.job.variable] = res.series
	}

	out := &Result{
		Init:        init.UTC(),
		Frames:      make(map[clyfar.Member]*clyfar.MemberFrame),
		DailyMax:    make(map[clyfar.Member]*clyfar.DailyMaxFrame),
		Series:      make(map[clyfar.Member]map[clyfar.Variable]*clyfar.VariableSeries),
		SnowOffsets: make(map[clyfar.Member]float64),
	}
	for _, m := range members {
		series := byMember[m]
		if !hasAllRequired(series) {
			log.WithField("member", m.Label()).Error(
				"discarding member: incomplete variable set")
			continue
		}
		if d.UseSnowObservation && !math.IsNaN(d.ObservedSnow) {
			out.SnowOffsets[m] = preprocess.ApplySnowOffset(series[clyfar.Snow], d.ObservedSnow)
		}
		frame, err := BuildFrame(d.Engine, series, percentiles)
		if err != nil {
			log.WithField("member", m.Label()).Errorf("discarding member: %v", err)
			continue
		}
		out.Frames[m] = frame
		out.DailyMax[m] = clyfar.DailyMax(frame, loc)
		out.Series[m] = series
		log.WithField("member", m.Label()).Info("member inference complete")
	}
	if len(out.Frames) == 0 {
		return nil, fmt.Errorf("forecast: no ensemble members completed for %v", init)
	}
	return out, nil
}

// runReduction dispatches one (member, variable) job to the appropriate
// pipeline.
func (d *Driver) runReduction(ctx context.Context, init time.Time, job reductionJob,
	deltaH, maxH int, loc *time.Location) (*clyfar.VariableSeries, error) {

	if job.variable.Info().Kind == clyfar.PointLookup {
		return d.Reducer.ReduceMSLP(ctx, init, job.member, 0, maxH, deltaH)
	}
	series, err := d.Reducer.Reduce(ctx, init, job.member, job.variable, 0, maxH, deltaH)
	if err != nil {
		return nil, err
	}
	if job.variable == clyfar.Solar {
		preprocess.FillLateSolar(series, deltaH, maxH, loc)
	}
	return series, nil
}

// hasAllRequired reports whether every FIS input variable (plus snow's
// canonical index) reduced successfully. Temperature is informational
// and its absence does not discard the member.
func hasAllRequired(series map[clyfar.Variable]*clyfar.VariableSeries) bool {
	if series == nil {
		return false
	}
	for _, v := range []clyfar.Variable{clyfar.Snow, clyfar.MSLP, clyfar.Wind, clyfar.Solar} {
		if series[v] == nil {
			return false
		}
	}
	return true
}
