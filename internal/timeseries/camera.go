package timeseries

import (
	"context"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/fieldstore"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/spectral"
	"github.com/banshee-data/opticsim/internal/tensor"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Product names recorded in the field store.
const (
	ProductFields       = "fields"
	ProductRebinnedCube = "rebinned_cube"
)

// CameraStage turns stored field sequences into a detector product. Observe
// is called once per chunk with finalize false and a last time with a nil
// chunk and finalize true. An unchunked run makes a single call with the
// whole sequence and finalize true.
type CameraStage interface {
	Product() string
	Observe(ctx context.Context, chunk *fieldstore.Span, absStep int, finalize bool) error
}

// ProductSink persists camera output.
type ProductSink interface {
	SaveProduct(name string, data *tensor.Dense[float64], finalized bool) error
}

// IntensityCamera builds the rebinned cube: per-step detector intensity
// summed over objects, interpolated to the final wavelength count, cropped
// to the mask size and shifted by the configured pixel offset. Its output
// has shape (step, wavelength, x, y).
type IntensityCamera struct {
	cfg   *config.Params
	sink  ProductSink
	plane string

	cube  *tensor.Dense[float64]
	steps []int
}

// NewIntensityCamera returns a camera reading the detector plane.
func NewIntensityCamera(cfg *config.Params, sink ProductSink) *IntensityCamera {
	return &IntensityCamera{cfg: cfg, sink: sink, plane: wavefront.DetectorPlane}
}

func (c *IntensityCamera) Product() string { return ProductRebinnedCube }

// Steps lists the timesteps accumulated so far.
func (c *IntensityCamera) Steps() []int { return append([]int(nil), c.steps...) }

// Cube returns the accumulated product, or nil before the first chunk.
func (c *IntensityCamera) Cube() *tensor.Dense[float64] { return c.cube }

func (c *IntensityCamera) Observe(ctx context.Context, chunk *fieldstore.Span, absStep int, finalize bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunk != nil {
		frames, err := c.rebin(chunk)
		if err != nil {
			return err
		}
		if c.cube == nil {
			c.cube = tensor.New[float64](append([]int{0}, frames.Shape()[1:]...)...)
		}
		for i := 0; i < frames.Dim(0); i++ {
			if err := c.cube.Append(frames.Index(0, i)); err != nil {
				return err
			}
		}
		c.steps = append(c.steps, chunk.Steps...)
		monitoring.Logf("camera: observed %d steps from %d", len(chunk.Steps), absStep)
	}
	if c.cube == nil {
		return simerr.NotFoundf("camera has no frames to write")
	}
	return c.sink.SaveProduct(c.Product(), c.cube, finalize)
}

func (c *IntensityCamera) rebin(chunk *fieldstore.Span) (*tensor.Dense[float64], error) {
	// Stored plane order follows the optical train, not the save list.
	fields, err := spectral.ExtractPlane(config.Sim{SaveList: chunk.Planes}, chunk.Fields, c.plane)
	if err != nil {
		return nil, err
	}
	// (step, wavelength, object, x, y) -> (step, wavelength, x, y)
	intensity := spectral.ToIntensity(fields).SumAxis(2)
	intensity, err = spectral.InterpolateIntensity(c.cfg.Astro, intensity, 1)
	if err != nil {
		return nil, err
	}
	if size := c.cfg.Sim.MaskdSize; size < intensity.Dim(2) {
		if intensity, err = spectral.ExtractCenter(intensity, size); err != nil {
			return nil, err
		}
	}
	shift := c.cfg.Telescope.PixShift
	return spectral.PixelShift(intensity, shift[0], shift[1])
}
