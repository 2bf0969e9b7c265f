// Package quicklook renders detector intensity as PNG heat maps for a quick
// visual check of a run.
package quicklook

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

// Options controls a heat map.
type Options struct {
	Title string
	// LogScale plots log10 of the intensity. Zero pixels are clamped to
	// the smallest positive value in the image.
	LogScale bool
	// Sampling is the pixel pitch used for the axes; zero labels pixels.
	Sampling float64
	Size     vg.Length
}

// grid adapts a 2-D intensity image to plotter.GridXYZ.
type grid struct {
	data   []float64
	nx, ny int
	pitch  float64
}

func (g grid) Dims() (c, r int)   { return g.nx, g.ny }
func (g grid) Z(c, r int) float64 { return g.data[c*g.ny+r] }
func (g grid) X(c int) float64    { return (float64(c) - float64(g.nx)/2) * g.pitch }
func (g grid) Y(r int) float64    { return (float64(r) - float64(g.ny)/2) * g.pitch }

func newGrid(image *tensor.Dense[float64], opts Options) (grid, error) {
	if image.Rank() != 2 || image.Dim(0) < 2 || image.Dim(1) < 2 {
		return grid{}, simerr.Configf("quicklook needs a 2-D image of at least 2x2, got shape %v", image.Shape())
	}
	g := grid{data: append([]float64(nil), image.Data()...), nx: image.Dim(0), ny: image.Dim(1), pitch: opts.Sampling}
	if g.pitch == 0 {
		g.pitch = 1
	}
	if opts.LogScale {
		floor := math.Inf(1)
		for _, v := range g.data {
			if v > 0 && v < floor {
				floor = v
			}
		}
		if math.IsInf(floor, 1) {
			floor = 1
		}
		for i, v := range g.data {
			g.data[i] = math.Log10(math.Max(v, floor))
		}
	}
	return g, nil
}

// Plot builds the heat map of image, shape (x, y).
func Plot(image *tensor.Dense[float64], opts Options) (*plot.Plot, error) {
	g, err := newGrid(image, opts)
	if err != nil {
		return nil, err
	}
	p := plot.New()
	p.Title.Text = opts.Title
	if opts.Sampling > 0 {
		p.X.Label.Text = "x (m)"
		p.Y.Label.Text = "y (m)"
	} else {
		p.X.Label.Text = "x (pix)"
		p.Y.Label.Text = "y (pix)"
	}
	hm := plotter.NewHeatMap(g, moreland.SmoothBlueRed().Palette(255))
	if hm.Min == hm.Max {
		// Flat image.
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	return p, nil
}

// Save writes the heat map of image to path as a PNG.
func Save(image *tensor.Dense[float64], path string, opts Options) error {
	p, err := Plot(image, opts)
	if err != nil {
		return err
	}
	size := opts.Size
	if size == 0 {
		size = 6 * vg.Inch
	}
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// SaveCube writes one time-summed heat map per wavelength of a rebinned
// cube, shape (step, wavelength, x, y), into dir and returns the files
// written.
func SaveCube(cube *tensor.Dense[float64], dir, prefix string, logScale bool) ([]string, error) {
	if cube.Rank() != 4 {
		return nil, simerr.Configf("expected a (step, wavelength, x, y) cube, got shape %v", cube.Shape())
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quicklook dir: %w", err)
	}
	summed := cube.SumAxis(0)
	var files []string
	for w := 0; w < summed.Dim(0); w++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_wvl%02d.png", prefix, w))
		opts := Options{Title: fmt.Sprintf("%s wavelength %d", prefix, w), LogScale: logScale}
		if err := Save(summed.Index(0, w), path, opts); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}
