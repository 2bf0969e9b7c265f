// Package prescription holds the optical trains a run can be configured
// with. A prescription builds a fresh ensemble for one timestep, applies its
// operations in order and returns the finalized snapshot archive.
package prescription

import (
	"context"
	"sort"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/optics"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Prescription runs one timestep's optical train.
type Prescription func(ctx context.Context, cfg *config.Params, prop optics.Propagator, timestep int) (*wavefront.Archive, error)

var registry = map[string]Prescription{
	"general_telescope": GeneralTelescope,
}

// Names lists the registered prescriptions.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named prescription.
func Lookup(name string) (Prescription, error) {
	p, ok := registry[name]
	if !ok {
		return nil, simerr.NotFoundf("prescription %q (have %v)", name, Names())
	}
	return p, nil
}

// Builder binds the configured prescription to cfg and prop, giving the
// per-timestep function the worker pool runs.
func Builder(cfg *config.Params, prop optics.Propagator) (func(ctx context.Context, timestep int) (*wavefront.Archive, error), error) {
	p, err := Lookup(cfg.Telescope.Prescription)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, timestep int) (*wavefront.Archive, error) {
		return p(ctx, cfg, prop, timestep)
	}, nil
}

// train applies named operations in order, stopping at the first error or
// when ctx ends.
type train struct {
	ctx context.Context
	e   *wavefront.Ensemble
	err error
}

func (t *train) apply(name string, op optics.Op) {
	if t.err != nil {
		return
	}
	if t.err = t.ctx.Err(); t.err != nil {
		return
	}
	t.err = t.e.Apply(name, op)
}

func (t *train) do(fn func() error) {
	if t.err != nil {
		return
	}
	t.err = fn()
}
