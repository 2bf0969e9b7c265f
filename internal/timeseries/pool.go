// Package timeseries drives the per-timestep optical train across a pool of
// workers, persists the results chunk by chunk, and feeds them to a camera
// stage.
package timeseries

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/timeutil"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Sentinel is the job value that tells a worker to exit.
const Sentinel = -1

// Builder runs the optical train for one timestep and returns the finalized
// snapshot archive. Each call builds its own ensemble.
type Builder func(ctx context.Context, timestep int) (*wavefront.Archive, error)

// Result is one completed timestep.
type Result struct {
	Timestep int
	Archive  *wavefront.Archive
}

// Pool runs timesteps on a fixed number of workers.
type Pool struct {
	Workers int
	Build   Builder
	// Timeout bounds the wait between consecutive results. Zero waits for
	// the context alone.
	Timeout time.Duration
	// Clock times steps and the result timeout.
	Clock timeutil.Clock
}

// NewPool returns a pool with workers goroutines.
func NewPool(workers int, build Builder, timeout time.Duration) *Pool {
	return &Pool{Workers: workers, Build: build, Timeout: timeout, Clock: timeutil.RealClock{}}
}

// Run processes steps and returns their results sorted by timestep. Each
// worker pulls indices from a shared queue until it reads the sentinel. A
// step whose builder fails or panics is logged and dropped; if any step is
// missing when collection ends, Run returns the partial results together
// with a *simerr.WorkerFailure naming the missing steps.
func (p *Pool) Run(ctx context.Context, steps []int) ([]Result, error) {
	if p.Workers < 1 {
		return nil, simerr.Configf("worker count must be >= 1, got %d", p.Workers)
	}
	if p.Build == nil {
		return nil, simerr.Configf("no timestep builder")
	}
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int, len(steps)+p.Workers)
	for _, s := range steps {
		if s < 0 {
			return nil, simerr.Configf("negative timestep %d", s)
		}
		jobs <- s
	}
	for i := 0; i < p.Workers; i++ {
		jobs <- Sentinel
	}
	close(jobs)

	results := make(chan Result, len(steps))
	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			activeWorkers.Inc()
			defer activeWorkers.Dec()
			for t := range jobs {
				if t == Sentinel || ctx.Err() != nil {
					return
				}
				start := clock.Now()
				archive, err := p.runStep(ctx, t)
				timestepDuration.Observe(clock.Since(start).Seconds())
				if err != nil {
					timestepsTotal.WithLabelValues(statusFailed).Inc()
					monitoring.Log().WithFields(logrus.Fields{
						"worker":   id,
						"timestep": t,
						"error":    err,
					}).Error("timestep failed")
					continue
				}
				timestepsTotal.WithLabelValues(statusCompleted).Inc()
				results <- Result{Timestep: t, Archive: archive}
			}
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collected := p.collect(ctx, clock, results, done, len(steps))
	sort.Slice(collected, func(i, j int) bool { return collected[i].Timestep < collected[j].Timestep })

	if missing := missingSteps(steps, collected); len(missing) > 0 {
		return collected, &simerr.WorkerFailure{Missing: missing, Total: len(steps)}
	}
	return collected, nil
}

// collect gathers up to want results. It stops early when every worker has
// exited, the context ends, or no result arrives within the timeout.
func (p *Pool) collect(ctx context.Context, clock timeutil.Clock, results <-chan Result, done <-chan struct{}, want int) []Result {
	out := make([]Result, 0, want)
	var (
		timer   timeutil.Timer
		timeout <-chan time.Time
	)
	if p.Timeout > 0 {
		timer = clock.NewTimer(p.Timeout)
		defer timer.Stop()
		timeout = timer.C()
	}
	for len(out) < want {
		select {
		case r := <-results:
			out = append(out, r)
			if timer != nil {
				timer.Reset(p.Timeout)
			}
		case <-done:
			// Workers are gone; drain what they left behind.
			for {
				select {
				case r := <-results:
					out = append(out, r)
				default:
					return out
				}
			}
		case <-ctx.Done():
			monitoring.Logf("timeseries: stopped collecting after %d of %d results: %v", len(out), want, ctx.Err())
			return out
		case <-timeout:
			monitoring.Logf("timeseries: no result within %s, %d of %d collected", p.Timeout, len(out), want)
			return out
		}
	}
	return out
}

func (p *Pool) runStep(ctx context.Context, t int) (archive *wavefront.Archive, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in timestep %d: %v", t, r)
		}
	}()
	archive, err = p.Build(ctx, t)
	if err == nil && archive == nil {
		err = fmt.Errorf("timestep %d produced no archive", t)
	}
	return archive, err
}

func missingSteps(steps []int, got []Result) []int {
	have := make(map[int]bool, len(got))
	for _, r := range got {
		have[r.Timestep] = true
	}
	var missing []int
	for _, s := range steps {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
