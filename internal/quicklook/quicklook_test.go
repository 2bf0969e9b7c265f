package quicklook

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
)

func ramp(nx, ny int) *tensor.Dense[float64] {
	img := tensor.New[float64](nx, ny)
	for i := range img.Data() {
		img.Data()[i] = float64(i)
	}
	return img
}

func TestGridAdapter(t *testing.T) {
	g, err := newGrid(ramp(4, 3), Options{Sampling: 0.5})
	require.NoError(t, err)
	c, r := g.Dims()
	assert.Equal(t, 4, c)
	assert.Equal(t, 3, r)
	assert.Equal(t, 5.0, g.Z(1, 2))
	assert.Equal(t, -1.0, g.X(0))
	assert.Equal(t, 0.0, g.X(2))
}

func TestLogScaleClampsZeros(t *testing.T) {
	g, err := newGrid(ramp(2, 2), Options{LogScale: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, g.Z(0, 0), "zero clamps to the smallest positive value, 1")
	assert.InDelta(t, math.Log10(3), g.Z(1, 1), 1e-12)
	for _, v := range g.data {
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.png")
	require.NoError(t, Save(ramp(8, 8), path, Options{Title: "detector"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	err = Save(tensor.New[float64](8), path, Options{})
	assert.True(t, errors.Is(err, simerr.ErrConfiguration))
}

func TestSaveCube(t *testing.T) {
	cube := tensor.New[float64](2, 3, 4, 4)
	for i := range cube.Data() {
		cube.Data()[i] = 1
	}
	dir := filepath.Join(t.TempDir(), "quicklook")
	files, err := SaveCube(cube, dir, "run", true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "run_wvl00.png"),
		filepath.Join(dir, "run_wvl01.png"),
		filepath.Join(dir, "run_wvl02.png"),
	}, files)

	_, err = SaveCube(tensor.New[float64](3, 4, 4), dir, "run", false)
	assert.True(t, errors.Is(err, simerr.ErrConfiguration))
}
