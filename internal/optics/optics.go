// Package optics is the boundary to the optical propagation library.
//
// The simulation core never looks inside a Wavefront. It only calls the
// Propagator operations named here, so any diffraction engine can be plugged
// in. fftprop is the bundled implementation.
package optics

import "github.com/banshee-data/opticsim/internal/tensor"

// Wavefront is an opaque per-wavelength complex field handle created by a
// Propagator. Only the Propagator that created it may operate on it.
type Wavefront interface{}

// Propagator is the per-cell operation set of an optical propagation library.
// Fields are stored with the array origin at a corner; ShiftCenter produces
// the origin-at-centre view used for saved planes.
type Propagator interface {
	// Begin creates a uniform field at the entrance pupil.
	Begin(diameter, wavelength float64, gridSize int, beamRatio float64) (Wavefront, error)

	Propagate(wf Wavefront, distance float64) error
	Lens(wf Wavefront, focalLength float64) error
	CircularAperture(wf Wavefront, radius float64) error
	CircularObscuration(wf Wavefront, radius float64) error
	RectangularObscuration(wf Wavefront, width, height, rotationDeg float64) error

	// DefineEntrance normalises the field to unit total intensity.
	DefineEntrance(wf Wavefront) error

	// Tilt adds x/y tilt (Zernike 2 and 3) with RMS amplitudes in metres.
	Tilt(wf Wavefront, x, y float64) error

	// Scale multiplies the field amplitude.
	Scale(wf Wavefront, factor float64) error

	// Sampling is the current grid spacing in metres.
	Sampling(wf Wavefront) float64
	Wavelength(wf Wavefront) float64

	// ShiftCenter returns a centre-origin copy of the field, shape (n, n).
	ShiftCenter(wf Wavefront) *tensor.Dense[complex128]
}

// Op is one optical operation applied uniformly to every wavefront cell.
// Name is the plane name inferred for the operation when the caller does not
// pass one explicitly.
type Op struct {
	Name string
	Fn   func(p Propagator, wf Wavefront) error
}
