package wavefront

import (
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

// Archive is the ordered set of plane snapshots taken during one ensemble's
// lifetime. Fields has shape (plane, wavelength, object, x, y) and Sampling
// has shape (plane, wavelength); both grow only at the leading axis, in step
// with Planes.
type Archive struct {
	Planes   []string
	Fields   *tensor.Dense[complex128]
	Sampling *tensor.Dense[float64]
}

// NewArchive returns an empty archive for nw wavelengths, no objects and an
// n x n grid, so its field shape is (0, nw, no, n, n).
func NewArchive(nw, no, n int) *Archive {
	return &Archive{
		Planes:   []string{},
		Fields:   tensor.New[complex128](0, nw, no, n, n),
		Sampling: tensor.New[float64](0, nw),
	}
}

// Len is the number of snapshots taken.
func (a *Archive) Len() int { return len(a.Planes) }

// Append adds one snapshot. fields must have shape (wavelength, object, x, y)
// and sampling one entry per wavelength. On error the archive is unchanged.
func (a *Archive) Append(name string, fields *tensor.Dense[complex128], sampling []float64) error {
	if len(sampling) != a.Sampling.Dim(1) {
		return simerr.Configf("snapshot %q has %d sampling values for %d wavelengths",
			name, len(sampling), a.Sampling.Dim(1))
	}
	if err := a.Fields.Append(fields); err != nil {
		return err
	}
	row, _ := tensor.FromSlice(append([]float64(nil), sampling...), len(sampling))
	if err := a.Sampling.Append(row); err != nil {
		return err
	}
	a.Planes = append(a.Planes, name)
	return nil
}

// Plane returns the snapshot saved under name with the plane axis removed.
func (a *Archive) Plane(name string) (*tensor.Dense[complex128], error) {
	for i, p := range a.Planes {
		if p == name {
			return a.Fields.Index(0, i), nil
		}
	}
	return nil, simerr.NotFoundf("plane %q was not saved (have %v)", name, a.Planes)
}
