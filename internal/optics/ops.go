package optics

import "github.com/banshee-data/opticsim/internal/simerr"

// CircularAperture keeps the field inside radius (m).
func CircularAperture(radius float64) Op {
	return Op{Name: "circular_aperture", Fn: func(p Propagator, wf Wavefront) error {
		return p.CircularAperture(wf, radius)
	}}
}

// DefineEntrance normalises each cell to unit intensity. Companion scaling must
// happen after this op, since it would otherwise normalise the companion to
// itself.
func DefineEntrance() Op {
	return Op{Name: "define_entrance", Fn: func(p Propagator, wf Wavefront) error {
		return p.DefineEntrance(wf)
	}}
}

// Propagate moves the field distance metres along the optical axis.
func Propagate(distance float64) Op {
	return Op{Name: "propagate", Fn: func(p Propagator, wf Wavefront) error {
		return p.Propagate(wf, distance)
	}}
}

// Lens applies a thin lens of the given focal length.
func Lens(focalLength float64) Op {
	return Op{Name: "lens", Fn: func(p Propagator, wf Wavefront) error {
		return p.Lens(wf, focalLength)
	}}
}

// PassLens applies a lens and then propagates to the next surface.
func PassLens(focalLength, distance float64) Op {
	return Op{Name: "pass_lens", Fn: func(p Propagator, wf Wavefront) error {
		if err := p.Lens(wf, focalLength); err != nil {
			return err
		}
		return p.Propagate(wf, distance)
	}}
}

// Obscuration describes the secondary mirror shadow and spider legs.
type Obscuration struct {
	M2Frac     float64 // secondary size as a fraction of DPrimary
	DPrimary   float64
	DSecondary float64
	LegsFrac   float64 // spider leg width as a fraction of DPrimary
}

// Validate reports whether the secondary can be sized.
func (o Obscuration) Validate() error {
	if o.M2Frac > 0 && o.DPrimary > 0 {
		return nil
	}
	if o.DSecondary > 0 {
		return nil
	}
	return simerr.Configf("obscuration needs M2Frac and DPrimary, or DSecondary")
}

// Obscurations masks the secondary and, when LegsFrac > 0, two spider legs
// rotated 20 degrees.
func Obscurations(o Obscuration) Op {
	return Op{Name: "obscurations", Fn: func(p Propagator, wf Wavefront) error {
		if err := o.Validate(); err != nil {
			return err
		}
		var err error
		if o.M2Frac > 0 && o.DPrimary > 0 {
			err = p.CircularObscuration(wf, o.M2Frac*o.DPrimary)
		} else {
			err = p.CircularObscuration(wf, o.DSecondary)
		}
		if err != nil {
			return err
		}
		if o.LegsFrac <= 0 {
			return nil
		}
		leg, span := o.LegsFrac*o.DPrimary, o.DPrimary*1.3
		if err := p.RectangularObscuration(wf, leg, span, 20); err != nil {
			return err
		}
		return p.RectangularObscuration(wf, span, leg, 20)
	}}
}
