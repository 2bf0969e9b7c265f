// Package wavefront holds the per-timestep field ensemble: one opaque
// propagator cell per (wavelength, object), the loop that applies optical
// operations across every cell, and the archive of named plane snapshots.
package wavefront

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/optics"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

// DetectorPlane is the plane name snapshotted by Finalize.
const DetectorPlane = "detector"

// Ensemble is the complex field state of every wavelength and object for one
// timestep. Object 0 is the star; objects 1..N are companions. An Ensemble
// is not safe for concurrent use; Apply parallelises across cells itself.
type Ensemble struct {
	cfg  *config.Params
	prop optics.Propagator

	wavelengths []float64
	beamRatios  []float64
	cells       [][]optics.Wavefront // [w][o]
	objects     int
	grid        int

	archive   *Archive
	finalized bool
}

// New allocates an ensemble with empty cells and an empty archive. Call
// InitializeCells before applying any operation.
func New(cfg *config.Params, prop optics.Propagator) (*Ensemble, error) {
	nw, no, n := cfg.Astro.NWvlInit, cfg.Astro.ObjectCount(), cfg.Sim.GridSize
	if nw < 1 {
		return nil, simerr.Configf("wavelength count must be >= 1, got %d", nw)
	}
	if n < 1 {
		return nil, simerr.Configf("grid size must be >= 1, got %d", n)
	}
	if prop == nil {
		return nil, simerr.Configf("no propagator")
	}
	cells := make([][]optics.Wavefront, nw)
	for w := range cells {
		cells[w] = make([]optics.Wavefront, no)
	}
	return &Ensemble{
		cfg:         cfg,
		prop:        prop,
		wavelengths: cfg.Astro.Wavelengths(),
		beamRatios:  make([]float64, nw),
		cells:       cells,
		objects:     no,
		grid:        n,
		archive:     NewArchive(nw, no, n),
	}, nil
}

// InitializeCells begins a fresh field in every cell. Focused systems use one
// beam ratio for all wavelengths; otherwise the ratio shrinks as λmin/λ so the
// focal plane sampling stays constant across the band.
func (e *Ensemble) InitializeCells() error {
	s := e.cfg.Sim
	lambdaMin := e.cfg.Astro.WvlRange[0]
	for w, lambda := range e.wavelengths {
		if s.FocusedSys {
			e.beamRatios[w] = s.BeamRatio
		} else {
			e.beamRatios[w] = s.BeamRatio * lambdaMin / lambda
		}
		for o := 0; o < e.objects; o++ {
			wf, err := e.prop.Begin(e.cfg.Telescope.EntranceD, lambda, e.grid, e.beamRatios[w])
			if err != nil {
				return fmt.Errorf("begin cell (%d, %d): %w", w, o, err)
			}
			e.cells[w][o] = wf
		}
	}
	return nil
}

// Wavelengths returns the sampled wavelengths in metres.
func (e *Ensemble) Wavelengths() []float64 { return append([]float64(nil), e.wavelengths...) }

// BeamRatios returns the per-wavelength beam ratio set by InitializeCells.
func (e *Ensemble) BeamRatios() []float64 { return append([]float64(nil), e.beamRatios...) }

// Dims returns the wavelength and object counts.
func (e *Ensemble) Dims() (wavelengths, objects int) { return len(e.cells), e.objects }

// Cell returns the handle at (w, o), nil before InitializeCells.
func (e *Ensemble) Cell(w, o int) optics.Wavefront { return e.cells[w][o] }

// Propagator returns the library the cells belong to.
func (e *Ensemble) Propagator() optics.Propagator { return e.prop }

// SavedPlanes returns the snapshot names taken so far, in order.
func (e *Ensemble) SavedPlanes() []string { return append([]string(nil), e.archive.Planes...) }

// Archive returns the live snapshot archive.
func (e *Ensemble) Archive() *Archive { return e.archive }

// PlaneName resolves the snapshot name for one Apply call. An explicit name
// wins over the operation's own name; whichever is chosen is dropped if it is
// not in the save list.
func PlaneName(explicit string, op optics.Op, sim config.Sim) string {
	name := explicit
	if name == "" {
		name = op.Name
	}
	if !sim.InSaveList(name) {
		return ""
	}
	return name
}

// Apply runs op on every cell, then snapshots the plane if its resolved name
// is in the save list and field saving is enabled. Cells are independent, so
// they are processed concurrently; the snapshot only starts once all of them
// have finished.
func (e *Ensemble) Apply(name string, op optics.Op) error {
	if err := e.ready(); err != nil {
		return err
	}
	plane := PlaneName(name, op, e.cfg.Sim)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for w := range e.cells {
		for o := range e.cells[w] {
			wf := e.cells[w][o]
			g.Go(func() error {
				if err := op.Fn(e.prop, wf); err != nil {
					return fmt.Errorf("%s on cell (%d, %d): %w", op.Name, w, o, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if plane != "" && e.cfg.Sim.SaveFields {
		return e.Snapshot(plane)
	}
	return nil
}

// Snapshot appends a centre-origin copy of every cell under name, with the
// per-wavelength sampling of the star. Names outside the save list are
// ignored.
func (e *Ensemble) Snapshot(name string) error {
	if !e.cfg.Sim.InSaveList(name) {
		return nil
	}
	if err := e.ready(); err != nil {
		return err
	}
	if e.cfg.Sim.Verbose {
		monitoring.Logf("saving plane at %s", name)
	}

	nw, n := len(e.cells), e.grid
	fields := tensor.New[complex128](nw, e.objects, n, n)
	sampling := make([]float64, nw)
	data := fields.Data()
	for w := range e.cells {
		for o, wf := range e.cells[w] {
			centred := e.prop.ShiftCenter(wf)
			off := (w*e.objects + o) * n * n
			copy(data[off:off+n*n], centred.Data())
		}
		sampling[w] = e.prop.Sampling(e.cells[w][0])
	}
	return e.archive.Append(name, fields, sampling)
}

// OffsetCompanions moves each companion to its configured position with an
// x/y tilt and scales it to its contrast. It must follow DefineEntrance,
// which would otherwise normalise the companion to unit intensity, and
// precede the next aperture.
//
// Focused systems do not rescale the beam ratio by wavelength, so the tilt is
// given in λ/D at the shortest wavelength to keep the companion at a fixed
// detector position. Otherwise the configured offsets are used as is.
func (e *Ensemble) OffsetCompanions() error {
	a := e.cfg.Astro
	if !a.Companion {
		return nil
	}
	if err := e.ready(); err != nil {
		return err
	}
	if len(a.CompanionXY) < e.objects-1 || len(a.Contrast) < e.objects-1 {
		return simerr.Configf("%d companions but %d positions and %d contrasts",
			e.objects-1, len(a.CompanionXY), len(a.Contrast))
	}
	scaling := a.ContrastScaling()
	for w := range e.cells {
		for o := 1; o < e.objects; o++ {
			wf := e.cells[w][o]
			x, y := a.CompanionXY[o-1][0], a.CompanionXY[o-1][1]
			if e.cfg.Sim.FocusedSys {
				k := a.WvlRange[0] / e.cfg.Telescope.EntranceD
				x, y = x*k, y*k
			}
			if err := e.prop.Tilt(wf, x, y); err != nil {
				return fmt.Errorf("offset companion %d at wavelength %d: %w", o, w, err)
			}
			if err := e.prop.Scale(wf, math.Sqrt(a.Contrast[o-1]*scaling[w])); err != nil {
				return fmt.Errorf("scale companion %d at wavelength %d: %w", o, w, err)
			}
		}
	}
	return nil
}

// CheckSampling logs the star's grid spacing at every wavelength. It only
// reports on the run's first timestep, StartFrame.
func (e *Ensemble) CheckSampling(timestep int, location string) {
	if timestep != e.cfg.Sim.StartFrame {
		return
	}
	units, scale := e.cfg.Sim.SamplingUnits, 1.0
	switch units {
	case "mm":
		scale = 1e3
	case "um":
		scale = 1e6
	case "nm":
		scale = 1e9
	default:
		units = "m"
	}
	monitoring.Logf("sampling at %s", location)
	for w, lambda := range e.wavelengths {
		if e.cells[w][0] == nil {
			continue
		}
		monitoring.Logf("sampling at wavelength=%.0fnm is %.4g %s",
			lambda*1e9, e.prop.Sampling(e.cells[w][0])*scale, units)
	}
}

// Finalize ends the ensemble's lifetime. When field saving is enabled it
// takes the detector snapshot, unless one was already taken, and returns
// the archive. The ensemble cannot be used afterwards.
func (e *Ensemble) Finalize() (*Archive, error) {
	if e.finalized {
		return nil, simerr.Configf("ensemble already finalized")
	}
	if e.cfg.Sim.SaveFields && !e.saved(DetectorPlane) {
		if err := e.Snapshot(DetectorPlane); err != nil {
			return nil, err
		}
	}
	e.finalized = true
	a := e.archive
	e.cells = nil
	return a, nil
}

func (e *Ensemble) saved(name string) bool {
	for _, p := range e.archive.Planes {
		if p == name {
			return true
		}
	}
	return false
}

func (e *Ensemble) ready() error {
	if e.finalized {
		return simerr.Configf("ensemble already finalized")
	}
	for w := range e.cells {
		for o := range e.cells[w] {
			if e.cells[w][o] == nil {
				return simerr.Configf("cell (%d, %d) not initialized", w, o)
			}
		}
	}
	return nil
}
