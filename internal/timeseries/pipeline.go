package timeseries

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/fieldstore"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Store is the part of the field store the pipeline drives.
type Store interface {
	ProductSink
	SaveStep(timestep int, a *wavefront.Archive) error
	LoadSpan(start, end int) (*fieldstore.Span, error)
	MarkChunk(chunk, start, end int) error
	ChunkDone(chunk int) (bool, error)
	Finalized(name string) (bool, error)
	MarkFinalized(name string) error
}

// Pipeline generates a run's fields chunk by chunk and then feeds them to
// the camera. Chunks run one after another; steps within a chunk run in
// parallel on the pool.
type Pipeline struct {
	Config *config.Params
	Pool   *Pool
	Store  Store
	// Camera is optional; a nil camera stops after the fields product.
	Camera CameraStage
}

// Run brings every product up to date. Chunks already flushed and products
// already finalized are skipped, so an interrupted run resumes where it
// stopped. With save_to_disk off the fields are never stored and Run
// streams them to the camera instead.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.Config.Sim.SaveToDisk {
		return p.Stream(ctx)
	}
	if err := p.Generate(ctx); err != nil {
		return err
	}
	if p.Camera == nil {
		return nil
	}
	return p.Observe(ctx)
}

// Bounds returns the absolute timestep range [start, end) of chunk i. Steps
// count from StartFrame.
func Bounds(sim config.Sim, i int) (start, end int) {
	last := sim.StartFrame + sim.NumFrames
	if sim.NumChunks() == 1 {
		return sim.StartFrame, last
	}
	start = sim.StartFrame + i*sim.ChunkSteps
	return start, min(start+sim.ChunkSteps, last)
}

func stepRange(start, end int) []int {
	steps := make([]int, 0, end-start)
	for t := start; t < end; t++ {
		steps = append(steps, t)
	}
	return steps
}

// Generate runs the worker pool over every unflushed chunk and stores the
// results. A chunk with missing steps keeps its successful steps on disk,
// is left unflushed, and stops generation with the *simerr.WorkerFailure.
func (p *Pipeline) Generate(ctx context.Context) error {
	done, err := p.Store.Finalized(ProductFields)
	if err != nil {
		return err
	}
	if done {
		monitoring.Logf("fields already finalized, skipping generation")
		return nil
	}

	sim := p.Config.Sim
	for ic := 0; ic < sim.NumChunks(); ic++ {
		start, end := Bounds(sim, ic)
		log := monitoring.Log().WithFields(logrus.Fields{"chunk": ic, "start": start, "end": end})
		flushed, err := p.Store.ChunkDone(ic)
		if err != nil {
			return err
		}
		if flushed {
			log.Info("chunk already flushed")
			continue
		}

		results, runErr := p.Pool.Run(ctx, stepRange(start, end))
		for _, r := range results {
			if err := p.Store.SaveStep(r.Timestep, r.Archive); err != nil {
				return fmt.Errorf("save timestep %d: %w", r.Timestep, err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("chunk %d: %w", ic, runErr)
		}
		if err := p.Store.MarkChunk(ic, start, end); err != nil {
			return err
		}
		chunksTotal.Inc()
		log.WithField("steps", len(results)).Info("chunk flushed")
	}
	return p.Store.MarkFinalized(ProductFields)
}

// Observe feeds stored fields to the camera, chunk by chunk.
func (p *Pipeline) Observe(ctx context.Context) error {
	product := p.Camera.Product()
	done, err := p.Store.Finalized(product)
	if err != nil {
		return err
	}
	if done {
		monitoring.Logf("%s already finalized, skipping camera", product)
		return nil
	}

	return p.observeChunks(ctx, func(ic, start, end int) (*fieldstore.Span, error) {
		span, err := p.Store.LoadSpan(start, end)
		if err != nil {
			return nil, fmt.Errorf("load chunk %d: %w", ic, err)
		}
		if len(span.Steps) == 0 {
			return nil, simerr.NotFoundf("chunk %d has no stored steps", ic)
		}
		return span, nil
	})
}

// Stream runs the pool chunk by chunk and hands each chunk straight to the
// camera without storing fields. Nothing is resumable: a worker failure
// stops the run and the next run starts over.
func (p *Pipeline) Stream(ctx context.Context) error {
	if p.Camera == nil {
		return simerr.Configf("save_to_disk is off and no camera stage is set, so nothing would be kept")
	}
	done, err := p.Store.Finalized(p.Camera.Product())
	if err != nil {
		return err
	}
	if done {
		monitoring.Logf("%s already finalized, skipping camera", p.Camera.Product())
		return nil
	}
	return p.observeChunks(ctx, func(ic, start, end int) (*fieldstore.Span, error) {
		results, err := p.Pool.Run(ctx, stepRange(start, end))
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", ic, err)
		}
		return spanOf(results)
	})
}

// observeChunks calls the camera once per chunk and once more to finalize,
// or a single finalizing call for an unchunked run.
func (p *Pipeline) observeChunks(ctx context.Context, load func(ic, start, end int) (*fieldstore.Span, error)) error {
	sim := p.Config.Sim
	n := sim.NumChunks()
	if n == 1 {
		start, end := Bounds(sim, 0)
		span, err := load(0, start, end)
		if err != nil {
			return err
		}
		return p.Camera.Observe(ctx, span, start, true)
	}
	for ic := 0; ic < n; ic++ {
		start, end := Bounds(sim, ic)
		span, err := load(ic, start, end)
		if err != nil {
			return err
		}
		if err := p.Camera.Observe(ctx, span, start, false); err != nil {
			return fmt.Errorf("camera chunk %d: %w", ic, err)
		}
	}
	return p.Camera.Observe(ctx, nil, sim.StartFrame+sim.NumFrames, true)
}

// spanOf assembles pool results into the layout LoadSpan returns.
func spanOf(results []Result) (*fieldstore.Span, error) {
	if len(results) == 0 {
		return nil, simerr.NotFoundf("no timesteps to observe")
	}
	planes := results[0].Archive.Planes
	span := &fieldstore.Span{Planes: planes}
	fields := make([]*tensor.Dense[complex128], len(results))
	sampling := make([]*tensor.Dense[float64], len(results))
	for i, r := range results {
		if !slices.Equal(r.Archive.Planes, planes) {
			return nil, simerr.Configf("timestep %d saved planes %v, expected %v", r.Timestep, r.Archive.Planes, planes)
		}
		span.Steps = append(span.Steps, r.Timestep)
		fields[i] = r.Archive.Fields
		sampling[i] = r.Archive.Sampling
	}
	var err error
	if span.Fields, err = tensor.Stack(fields); err != nil {
		return nil, err
	}
	if span.Sampling, err = tensor.Stack(sampling); err != nil {
		return nil, err
	}
	return span, nil
}
