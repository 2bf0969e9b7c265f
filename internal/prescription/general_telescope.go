package prescription

import (
	"context"
	"fmt"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/optics"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Plane names the general telescope passes explicitly.
const (
	PlaneEntrance          = "entrance"
	PlaneCompanionAperture = "companion_aperture"
	PlaneFocus             = "focus"
)

// GeneralTelescope is a single-aperture telescope with optional secondary
// obscuration and companions, focused onto the detector by one lens.
//
//	entrance aperture -> normalise -> [obscurations] ->
//	[offset companions -> aperture] -> pass lens -> detector
func GeneralTelescope(ctx context.Context, cfg *config.Params, prop optics.Propagator, timestep int) (*wavefront.Archive, error) {
	tp := cfg.Telescope
	if tp.UseAtmos || tp.UseAO {
		return nil, simerr.Configf("general_telescope does not model atmosphere or AO (use_atmos=%v use_ao=%v)",
			tp.UseAtmos, tp.UseAO)
	}
	if tp.FLens <= 0 {
		return nil, simerr.Configf("f_lens must be positive, got %g", tp.FLens)
	}

	e, err := wavefront.New(cfg, prop)
	if err != nil {
		return nil, err
	}
	if err := e.InitializeCells(); err != nil {
		return nil, fmt.Errorf("timestep %d: %w", timestep, err)
	}

	t := &train{ctx: ctx, e: e}
	t.apply(PlaneEntrance, optics.CircularAperture(tp.EntranceD/2))
	t.apply("", optics.DefineEntrance())
	if tp.Obscure {
		t.apply("", optics.Obscurations(optics.Obscuration{
			M2Frac:     tp.M2Frac,
			DPrimary:   tp.EntranceD,
			DSecondary: tp.DSecondary,
			LegsFrac:   tp.LegsFrac,
		}))
	}
	if _, objects := e.Dims(); objects > 1 {
		t.do(e.OffsetCompanions)
		t.apply(PlaneCompanionAperture, optics.CircularAperture(tp.EntranceD/2))
	}
	t.apply(PlaneFocus, optics.PassLens(tp.FLens, tp.FLens))
	if t.err != nil {
		return nil, fmt.Errorf("timestep %d: %w", timestep, t.err)
	}
	e.CheckSampling(timestep, "focal plane")

	archive, err := e.Finalize()
	if err != nil {
		return nil, fmt.Errorf("timestep %d: %w", timestep, err)
	}
	if cfg.Sim.Verbose {
		monitoring.Logf("finished datacube at timestep = %d", timestep)
	}
	return archive, nil
}
