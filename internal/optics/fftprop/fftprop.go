// Package fftprop is a compact scalar-diffraction implementation of
// optics.Propagator built on gonum's FFT.
//
// Fields are square, stored with the origin at element (0, 0) so that FFTs
// need no shifting. Short distances use the angular-spectrum method at fixed
// sampling; long distances use a single-FFT Fresnel transform whose output
// sampling is lambda*z/(n*dx). A lens is held as a pending reference sphere
// and folded into the next propagation, so a lens followed by a propagation of
// its focal length lands in the far field with sampling lambda*f/(n*dx).
// Saved planes taken between a bare Lens and the next propagation do not
// include the pending lens phase.
package fftprop

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/opticsim/internal/optics"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

type field struct {
	n        int
	lambda   float64
	diameter float64
	dx       float64
	invFocus float64      // pending lens power, 1/m
	data     []complex128 // data[i*n+j], i along x
	fft      *fourier.CmplxFFT
}

// Propagator implements optics.Propagator. The zero value is ready to use and
// safe for concurrent use on distinct wavefronts.
type Propagator struct{}

var _ optics.Propagator = Propagator{}

func cast(wf optics.Wavefront) *field {
	f, ok := wf.(*field)
	if !ok {
		panic(fmt.Sprintf("fftprop: foreign wavefront handle %T", wf))
	}
	return f
}

// Begin creates a unit-amplitude field. beamRatio is the beam diameter as a
// fraction of the grid width.
func (Propagator) Begin(diameter, wavelength float64, gridSize int, beamRatio float64) (optics.Wavefront, error) {
	switch {
	case gridSize < 1:
		return nil, simerr.Configf("grid size %d < 1", gridSize)
	case diameter <= 0 || wavelength <= 0 || beamRatio <= 0:
		return nil, simerr.Configf("diameter, wavelength and beam ratio must be positive (got %g, %g, %g)",
			diameter, wavelength, beamRatio)
	}
	f := &field{
		n:        gridSize,
		lambda:   wavelength,
		diameter: diameter,
		dx:       diameter / (beamRatio * float64(gridSize)),
		data:     make([]complex128, gridSize*gridSize),
		fft:      fourier.NewCmplxFFT(gridSize),
	}
	for i := range f.data {
		f.data[i] = 1
	}
	return f, nil
}

// centred maps a corner-origin index to its signed offset from the origin.
func (f *field) centred(i int) float64 {
	return float64((i+f.n/2)%f.n - f.n/2)
}

func (f *field) each(fn func(x, y float64, v complex128) complex128) {
	for i := 0; i < f.n; i++ {
		x := f.centred(i) * f.dx
		for j := 0; j < f.n; j++ {
			y := f.centred(j) * f.dx
			k := i*f.n + j
			f.data[k] = fn(x, y, f.data[k])
		}
	}
}

func (f *field) fft2(inverse bool) {
	n := f.n
	in := make([]complex128, n)
	out := make([]complex128, n)
	transform := func() {
		if inverse {
			f.fft.Sequence(out, in)
		} else {
			f.fft.Coefficients(out, in)
		}
	}
	for i := 0; i < n; i++ {
		copy(in, f.data[i*n:(i+1)*n])
		transform()
		copy(f.data[i*n:(i+1)*n], out)
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			in[i] = f.data[i*n+j]
		}
		transform()
		for i := 0; i < n; i++ {
			f.data[i*n+j] = out[i]
		}
	}
}

// Propagate moves the field by distance metres.
func (Propagator) Propagate(wf optics.Wavefront, distance float64) error {
	f := cast(wf)
	if distance == 0 {
		return nil
	}
	invF := f.invFocus
	f.invFocus = 0

	critical := float64(f.n) * f.dx * f.dx / f.lambda
	resid := 1/distance - invF
	if resid == 0 || 1/math.Abs(resid) >= critical {
		f.fresnel(distance, invF)
		return nil
	}
	if invF != 0 {
		f.applyLens(invF)
	}
	f.angularSpectrum(distance)
	return nil
}

func (f *field) applyLens(invF float64) {
	k := -math.Pi * invF / f.lambda
	f.each(func(x, y float64, v complex128) complex128 {
		return v * cmplx.Rect(1, k*(x*x+y*y))
	})
}

func (f *field) angularSpectrum(z float64) {
	f.fft2(false)
	n := float64(f.n)
	df := 1 / (n * f.dx)
	for i := 0; i < f.n; i++ {
		fx := f.centred(i) * df
		for j := 0; j < f.n; j++ {
			fy := f.centred(j) * df
			phase := -math.Pi * f.lambda * z * (fx*fx + fy*fy)
			f.data[i*f.n+j] *= cmplx.Rect(1/(n*n), phase)
		}
	}
	f.fft2(true)
}

func (f *field) fresnel(z, invF float64) {
	pre := math.Pi / f.lambda * (1/z - invF)
	f.each(func(x, y float64, v complex128) complex128 {
		return v * cmplx.Rect(1, pre*(x*x+y*y))
	})
	k := math.Pi / (f.lambda * z)
	f.fft2(z < 0)
	n := float64(f.n)
	f.dx = f.lambda * math.Abs(z) / (n * f.dx)
	f.each(func(x, y float64, v complex128) complex128 {
		return v * cmplx.Rect(1/n, k*(x*x+y*y))
	})
}

// Lens adds a thin lens to the pending reference sphere. Lenses with no
// propagation between them combine as lenses in contact.
func (Propagator) Lens(wf optics.Wavefront, focalLength float64) error {
	if focalLength == 0 {
		return simerr.Configf("lens focal length must be non-zero")
	}
	f := cast(wf)
	f.invFocus += 1 / focalLength
	return nil
}

// CircularAperture zeroes the field outside radius.
func (Propagator) CircularAperture(wf optics.Wavefront, radius float64) error {
	f := cast(wf)
	r2 := radius * radius
	f.each(func(x, y float64, v complex128) complex128 {
		if x*x+y*y > r2 {
			return 0
		}
		return v
	})
	return nil
}

// CircularObscuration zeroes the field inside radius.
func (Propagator) CircularObscuration(wf optics.Wavefront, radius float64) error {
	f := cast(wf)
	r2 := radius * radius
	f.each(func(x, y float64, v complex128) complex128 {
		if x*x+y*y <= r2 {
			return 0
		}
		return v
	})
	return nil
}

// RectangularObscuration zeroes a centred rectangle rotated by rotationDeg.
func (Propagator) RectangularObscuration(wf optics.Wavefront, width, height, rotationDeg float64) error {
	f := cast(wf)
	s, c := math.Sincos(rotationDeg * math.Pi / 180)
	f.each(func(x, y float64, v complex128) complex128 {
		u := x*c + y*s
		w := -x*s + y*c
		if math.Abs(u) <= width/2 && math.Abs(w) <= height/2 {
			return 0
		}
		return v
	})
	return nil
}

// DefineEntrance normalises the total intensity to one.
func (Propagator) DefineEntrance(wf optics.Wavefront) error {
	f := cast(wf)
	var total float64
	for _, v := range f.data {
		total += real(v)*real(v) + imag(v)*imag(v)
	}
	if total == 0 {
		return simerr.Configf("cannot normalise an all-zero field")
	}
	norm := complex(1/math.Sqrt(total), 0)
	for i := range f.data {
		f.data[i] *= norm
	}
	return nil
}

// Tilt adds Zernike tilt terms, RMS amplitude in metres over the beam radius.
func (Propagator) Tilt(wf optics.Wavefront, x, y float64) error {
	f := cast(wf)
	r := f.diameter / 2
	k := 2 * math.Pi / f.lambda
	f.each(func(px, py float64, v complex128) complex128 {
		opd := x*2*px/r + y*2*py/r
		return v * cmplx.Rect(1, k*opd)
	})
	return nil
}

// Scale multiplies the field amplitude by factor.
func (Propagator) Scale(wf optics.Wavefront, factor float64) error {
	f := cast(wf)
	s := complex(factor, 0)
	for i := range f.data {
		f.data[i] *= s
	}
	return nil
}

// Sampling returns the grid spacing in metres.
func (Propagator) Sampling(wf optics.Wavefront) float64 { return cast(wf).dx }

// Wavelength returns the field's wavelength in metres.
func (Propagator) Wavelength(wf optics.Wavefront) float64 { return cast(wf).lambda }

// ShiftCenter returns the field with the origin moved to element (n/2, n/2).
func (Propagator) ShiftCenter(wf optics.Wavefront) *tensor.Dense[complex128] {
	f := cast(wf)
	out := tensor.New[complex128](f.n, f.n)
	data := out.Data()
	h := f.n / 2
	for i := 0; i < f.n; i++ {
		si := (i + h) % f.n
		for j := 0; j < f.n; j++ {
			data[si*f.n+(j+h)%f.n] = f.data[i*f.n+j]
		}
	}
	return out
}
