// Package spectral turns snapshot archives into science cubes: wavelength
// interpolation, plane extraction, intensity conversion and cropping.
//
// Any sum over the object or wavelength axes that is meant to be an
// intensity must come after ToIntensity. Summing complex amplitudes first
// keeps the cross terms between sources.
package spectral

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

// interpolates reports whether the wavelength axis is resampled at all, and
// rejects a requested interpolation that would not grow the axis.
func interpolates(a config.Astro) (bool, error) {
	if !a.InterpWvl || a.NWvlInit <= 1 {
		return false, nil
	}
	if a.NWvlFinal <= a.NWvlInit {
		return false, simerr.Configf("cannot interpolate %d wavelengths to %d", a.NWvlInit, a.NWvlFinal)
	}
	return true, nil
}

// InterpolateWavelength linearly resamples axis of a complex cube from
// NWvlInit to NWvlFinal points. Both grids are parameterised on [0, 1], so
// the end points are kept exactly. The real and imaginary parts are
// interpolated independently. data is returned as is when interpolation is
// disabled or there is only one initial wavelength.
func InterpolateWavelength(a config.Astro, data *tensor.Dense[complex128], axis int) (*tensor.Dense[complex128], error) {
	ok, err := interpolates(a)
	if !ok || err != nil {
		return data, err
	}
	if err := checkAxis(a, data.Shape(), axis); err != nil {
		return nil, err
	}

	out := tensor.New[complex128](resized(data.Shape(), axis, a.NWvlFinal)...)
	outer, n, inner := data.Layout(axis)
	src, dst := data.Data(), out.Data()
	re, im := make([]float64, n), make([]float64, n)
	reOut, imOut := make([]float64, a.NWvlFinal), make([]float64, a.NWvlFinal)
	rs := newResampler(n, a.NWvlFinal)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			for k := 0; k < n; k++ {
				v := src[(o*n+k)*inner+i]
				re[k], im[k] = real(v), imag(v)
			}
			if err := rs.resample(re, reOut); err != nil {
				return nil, err
			}
			if err := rs.resample(im, imOut); err != nil {
				return nil, err
			}
			for k := range reOut {
				dst[(o*a.NWvlFinal+k)*inner+i] = complex(reOut[k], imOut[k])
			}
		}
	}
	return out, nil
}

// InterpolateIntensity is InterpolateWavelength for real-valued cubes.
func InterpolateIntensity(a config.Astro, data *tensor.Dense[float64], axis int) (*tensor.Dense[float64], error) {
	ok, err := interpolates(a)
	if !ok || err != nil {
		return data, err
	}
	if err := checkAxis(a, data.Shape(), axis); err != nil {
		return nil, err
	}

	out := tensor.New[float64](resized(data.Shape(), axis, a.NWvlFinal)...)
	outer, n, inner := data.Layout(axis)
	src, dst := data.Data(), out.Data()
	lane, res := make([]float64, n), make([]float64, a.NWvlFinal)
	rs := newResampler(n, a.NWvlFinal)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			for k := 0; k < n; k++ {
				lane[k] = src[(o*n+k)*inner+i]
			}
			if err := rs.resample(lane, res); err != nil {
				return nil, err
			}
			for k, v := range res {
				dst[(o*a.NWvlFinal+k)*inner+i] = v
			}
		}
	}
	return out, nil
}

// InterpolateSampling spreads the per-wavelength sampling of one snapshot
// over the final wavelength grid.
func InterpolateSampling(a config.Astro, sampling []float64) ([]float64, error) {
	ok, err := interpolates(a)
	if !ok || err != nil {
		return sampling, err
	}
	if len(sampling) == 0 {
		return nil, simerr.Configf("no sampling values to interpolate")
	}
	return floats.Span(make([]float64, a.NWvlFinal), sampling[0], sampling[len(sampling)-1]), nil
}

func checkAxis(a config.Astro, shape []int, axis int) error {
	if axis < 0 || axis >= len(shape) {
		return simerr.Configf("wavelength axis %d out of range for shape %v", axis, shape)
	}
	if shape[axis] != a.NWvlInit {
		return simerr.Configf("wavelength axis %d has length %d, want %d", axis, shape[axis], a.NWvlInit)
	}
	return nil
}

func resized(shape []int, axis, n int) []int {
	shape[axis] = n
	return shape
}

type resampler struct {
	xs, xsOut []float64
}

func newResampler(nIn, nOut int) *resampler {
	return &resampler{
		xs:    floats.Span(make([]float64, nIn), 0, 1),
		xsOut: floats.Span(make([]float64, nOut), 0, 1),
	}
}

// resample fits ys on the input grid and writes the output grid into dst.
func (r *resampler) resample(ys, dst []float64) error {
	var pl interp.PiecewiseLinear
	if err := pl.Fit(r.xs, ys); err != nil {
		return err
	}
	for k, x := range r.xsOut {
		dst[k] = pl.Predict(x)
	}
	return nil
}

// ExtractPlane returns the named plane from a (timestep, plane, wavelength,
// object, x, y) sequence with the plane axis removed.
func ExtractPlane(s config.Sim, seq *tensor.Dense[complex128], name string) (*tensor.Dense[complex128], error) {
	idx := s.PlaneIndex(name)
	if idx < 0 {
		return nil, simerr.NotFoundf("plane %q is not in the save list %v", name, s.SaveList)
	}
	if seq.Rank() != 6 {
		return nil, simerr.Configf("expected a 6-axis sequence, got shape %v", seq.Shape())
	}
	if seq.Dim(1) != len(s.SaveList) {
		return nil, simerr.Configf("sequence has %d planes but the save list has %d", seq.Dim(1), len(s.SaveList))
	}
	return seq.Index(1, idx), nil
}

// ToIntensity returns |z|² elementwise.
func ToIntensity(data *tensor.Dense[complex128]) *tensor.Dense[float64] {
	out := tensor.New[float64](data.Shape()...)
	dst := out.Data()
	for i, v := range data.Data() {
		dst[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	return out
}

// ExtractCenter crops the last two axes symmetrically to size x size.
func ExtractCenter[T tensor.Elem](field *tensor.Dense[T], size int) (*tensor.Dense[T], error) {
	shape := field.Shape()
	if len(shape) < 2 {
		return nil, simerr.Configf("cannot crop shape %v", shape)
	}
	nx, ny := shape[len(shape)-2], shape[len(shape)-1]
	if size < 1 || size > nx || size > ny {
		return nil, simerr.Configf("crop size %d does not fit field %dx%d", size, nx, ny)
	}
	x0, y0 := (nx-size)/2, (ny-size)/2

	shape[len(shape)-2], shape[len(shape)-1] = size, size
	out := tensor.New[T](shape...)
	src, dst := field.Data(), out.Data()
	planes := len(src) / (nx * ny)
	for p := 0; p < planes; p++ {
		for i := 0; i < size; i++ {
			from := p*nx*ny + (x0+i)*ny + y0
			copy(dst[(p*size+i)*size:(p*size+i+1)*size], src[from:from+size])
		}
	}
	return out, nil
}

// PixelShift circularly shifts the last two axes by dx and dy pixels, as
// for an off-axis pointing offset.
func PixelShift[T tensor.Elem](cube *tensor.Dense[T], dx, dy int) (*tensor.Dense[T], error) {
	shape := cube.Shape()
	if len(shape) < 2 {
		return nil, simerr.Configf("cannot shift shape %v", shape)
	}
	if dx == 0 && dy == 0 {
		return cube, nil
	}
	nx, ny := shape[len(shape)-2], shape[len(shape)-1]
	out := tensor.New[T](shape...)
	src, dst := cube.Data(), out.Data()
	planes := len(src) / (nx * ny)
	for p := 0; p < planes; p++ {
		base := p * nx * ny
		for i := 0; i < nx; i++ {
			ti := mod(i+dx, nx)
			for j := 0; j < ny; j++ {
				dst[base+ti*ny+mod(j+dy, ny)] = src[base+i*ny+j]
			}
		}
	}
	return out, nil
}

func mod(a, n int) int {
	return (a%n + n) % n
}
