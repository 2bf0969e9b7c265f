package timeseries

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/fieldstore"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

type cameraCall struct {
	Steps    []int
	AbsStep  int
	Finalize bool
}

type recordingCamera struct {
	calls []cameraCall
}

func (c *recordingCamera) Product() string { return "recorded" }

func (c *recordingCamera) Observe(ctx context.Context, chunk *fieldstore.Span, absStep int, finalize bool) error {
	call := cameraCall{AbsStep: absStep, Finalize: finalize}
	if chunk != nil {
		call.Steps = chunk.Steps
	}
	c.calls = append(c.calls, call)
	return nil
}

func testConfig(frames, chunk int) *config.Params {
	cfg := config.Default()
	cfg.Astro.NWvlInit = 2
	cfg.Astro.NWvlFinal = 3
	cfg.Sim.GridSize = 4
	cfg.Sim.MaskdSize = 4
	cfg.Sim.NumFrames = frames
	cfg.Sim.ChunkSteps = chunk
	cfg.Sim.NumProcesses = 2
	return cfg
}

func openStore(t *testing.T) *fieldstore.Store {
	t.Helper()
	s, err := fieldstore.Open(filepath.Join(t.TempDir(), config.FieldsFile))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countingBuilder(cfg *config.Params, calls *atomic.Int32) Builder {
	return func(ctx context.Context, ts int) (*wavefront.Archive, error) {
		calls.Add(1)
		return stepArchive(ts, cfg.Astro.NWvlInit, cfg.Sim.GridSize), nil
	}
}

func TestBounds(t *testing.T) {
	sim := config.Sim{NumFrames: 5, ChunkSteps: 2}
	var got [][2]int
	for i := 0; i < sim.NumChunks(); i++ {
		s, e := Bounds(sim, i)
		got = append(got, [2]int{s, e})
	}
	if diff := cmp.Diff([][2]int{{0, 2}, {2, 4}, {4, 5}}, got); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}

	s, e := Bounds(config.Sim{NumFrames: 3}, 0)
	assert.Equal(t, [2]int{0, 3}, [2]int{s, e})

	s, e = Bounds(config.Sim{NumFrames: 3, StartFrame: 100}, 0)
	assert.Equal(t, [2]int{100, 103}, [2]int{s, e})
	s, e = Bounds(config.Sim{NumFrames: 5, ChunkSteps: 2, StartFrame: 10}, 2)
	assert.Equal(t, [2]int{14, 15}, [2]int{s, e})
}

// recordingBuilder remembers which timesteps it was asked for.
type recordingBuilder struct {
	mu    sync.Mutex
	steps []int
	cfg   *config.Params
}

func (b *recordingBuilder) build(ctx context.Context, ts int) (*wavefront.Archive, error) {
	b.mu.Lock()
	b.steps = append(b.steps, ts)
	b.mu.Unlock()
	return stepArchive(ts, b.cfg.Astro.NWvlInit, b.cfg.Sim.GridSize), nil
}

func (b *recordingBuilder) sorted() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := slices.Clone(b.steps)
	slices.Sort(out)
	return out
}

func TestPipelineStartFrameOffsetsSteps(t *testing.T) {
	cfg := testConfig(3, 2)
	cfg.Sim.StartFrame = 100
	store := openStore(t)
	b := &recordingBuilder{cfg: cfg}
	cam := &recordingCamera{}
	p := &Pipeline{Config: cfg, Pool: NewPool(2, b.build, time.Second), Store: store, Camera: cam}
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []int{100, 101, 102}, b.sorted())
	n, _ := store.Count()
	assert.Equal(t, 3, n)
	span, err := store.LoadSpan(100, 103)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 101, 102}, span.Steps)

	want := []cameraCall{
		{Steps: []int{100, 101}, AbsStep: 100},
		{Steps: []int{102}, AbsStep: 102},
		{AbsStep: 103, Finalize: true},
	}
	if diff := cmp.Diff(want, cam.calls); diff != "" {
		t.Errorf("camera calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineWithoutSaveToDiskStreams(t *testing.T) {
	cfg := testConfig(3, 2)
	cfg.Sim.SaveToDisk = false
	cfg.Sim.MaskdSize = 2
	store := openStore(t)
	b := &recordingBuilder{cfg: cfg}
	cam := NewIntensityCamera(cfg, store)
	p := &Pipeline{Config: cfg, Pool: NewPool(2, b.build, time.Second), Store: store, Camera: cam}
	require.NoError(t, p.Run(context.Background()))

	n, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, n, "fields are not persisted")
	done, _ := store.ChunkDone(0)
	assert.False(t, done)
	finalized, _ := store.Finalized(ProductFields)
	assert.False(t, finalized)

	cube, done, err := store.Product(ProductRebinnedCube)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []int{3, 3, 2, 2}, cube.Shape())
	assert.Equal(t, []int{0, 1, 2}, cam.Steps())
	assert.InDelta(t, 9.0, cube.At(2, 0, 1, 1), 1e-12)

	// A finalized product is not rebuilt.
	b.steps = nil
	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, b.sorted())
}

func TestPipelineWithoutSaveToDiskNeedsCamera(t *testing.T) {
	cfg := testConfig(2, 0)
	cfg.Sim.SaveToDisk = false
	var calls atomic.Int32
	p := &Pipeline{Config: cfg, Pool: NewPool(1, countingBuilder(cfg, &calls), time.Second), Store: openStore(t)}
	err := p.Run(context.Background())
	assert.True(t, errors.Is(err, simerr.ErrConfiguration))
	assert.Zero(t, calls.Load())
}

func TestPipelineStreamStopsOnWorkerFailure(t *testing.T) {
	cfg := testConfig(2, 0)
	cfg.Sim.SaveToDisk = false
	build := func(ctx context.Context, ts int) (*wavefront.Archive, error) {
		if ts == 1 {
			return nil, errors.New("transient")
		}
		return stepArchive(ts, cfg.Astro.NWvlInit, cfg.Sim.GridSize), nil
	}
	cam := &recordingCamera{}
	p := &Pipeline{Config: cfg, Pool: NewPool(1, build, time.Second), Store: openStore(t), Camera: cam}
	err := p.Run(context.Background())
	var wf *simerr.WorkerFailure
	require.True(t, errors.As(err, &wf), "err = %v", err)
	assert.Equal(t, []int{1}, wf.Missing)
	assert.Empty(t, cam.calls)
}

func TestPipelineChunkedCameraCalls(t *testing.T) {
	cfg := testConfig(5, 2)
	var calls atomic.Int32
	cam := &recordingCamera{}
	p := &Pipeline{
		Config: cfg,
		Pool:   NewPool(cfg.Sim.NumProcesses, countingBuilder(cfg, &calls), time.Second),
		Store:  openStore(t),
		Camera: cam,
	}
	require.NoError(t, p.Run(context.Background()))

	want := []cameraCall{
		{Steps: []int{0, 1}, AbsStep: 0},
		{Steps: []int{2, 3}, AbsStep: 2},
		{Steps: []int{4}, AbsStep: 4},
		{AbsStep: 5, Finalize: true},
	}
	if diff := cmp.Diff(want, cam.calls); diff != "" {
		t.Errorf("camera calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestPipelineUnchunkedSingleFinalCall(t *testing.T) {
	cfg := testConfig(3, 0)
	var calls atomic.Int32
	cam := &recordingCamera{}
	p := &Pipeline{
		Config: cfg,
		Pool:   NewPool(2, countingBuilder(cfg, &calls), time.Second),
		Store:  openStore(t),
		Camera: cam,
	}
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []cameraCall{{Steps: []int{0, 1, 2}, AbsStep: 0, Finalize: true}}, cam.calls)
}

func TestPipelineResumesAfterWorkerFailure(t *testing.T) {
	cfg := testConfig(4, 2)
	store := openStore(t)

	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	build := func(ctx context.Context, ts int) (*wavefront.Archive, error) {
		calls.Add(1)
		if ts == 3 && fail.Load() {
			return nil, errors.New("transient")
		}
		return stepArchive(ts, cfg.Astro.NWvlInit, cfg.Sim.GridSize), nil
	}
	p := &Pipeline{Config: cfg, Pool: NewPool(2, build, time.Second), Store: store}

	err := p.Run(context.Background())
	var wf *simerr.WorkerFailure
	require.True(t, errors.As(err, &wf), "err = %v", err)
	assert.Equal(t, []int{3}, wf.Missing)

	done, _ := store.ChunkDone(0)
	assert.True(t, done)
	done, _ = store.ChunkDone(1)
	assert.False(t, done, "failed chunk stays unflushed")
	n, _ := store.Count()
	assert.Equal(t, 3, n, "successful steps are kept")
	finalized, _ := store.Finalized(ProductFields)
	assert.False(t, finalized)

	fail.Store(false)
	calls.Store(0)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int32(2), calls.Load(), "only the unflushed chunk reruns")
	finalized, _ = store.Finalized(ProductFields)
	assert.True(t, finalized)

	calls.Store(0)
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int32(0), calls.Load(), "finalized fields are not regenerated")
}

func TestPipelineSkipsFinalizedCamera(t *testing.T) {
	cfg := testConfig(2, 0)
	store := openStore(t)
	var calls atomic.Int32
	cam := &recordingCamera{}
	require.NoError(t, store.MarkFinalized(cam.Product()))

	p := &Pipeline{Config: cfg, Pool: NewPool(1, countingBuilder(cfg, &calls), time.Second), Store: store, Camera: cam}
	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, cam.calls)
}

func TestIntensityCameraEndToEnd(t *testing.T) {
	cfg := testConfig(3, 2)
	cfg.Sim.MaskdSize = 2
	store := openStore(t)
	var calls atomic.Int32
	cam := NewIntensityCamera(cfg, store)
	p := &Pipeline{
		Config: cfg,
		Pool:   NewPool(2, countingBuilder(cfg, &calls), time.Second),
		Store:  store,
		Camera: cam,
	}
	require.NoError(t, p.Run(context.Background()))

	cube, done, err := store.Product(ProductRebinnedCube)
	require.NoError(t, err)
	assert.True(t, done)
	// (step, final wavelengths, mask, mask)
	assert.Equal(t, []int{3, 3, 2, 2}, cube.Shape())
	assert.Equal(t, []int{0, 1, 2}, cam.Steps())
	for ts := 0; ts < 3; ts++ {
		want := float64((ts + 1) * (ts + 1))
		for w := 0; w < 3; w++ {
			assert.InDelta(t, want, cube.At(ts, w, 1, 1), 1e-12, "step %d wavelength %d", ts, w)
		}
	}
}

func TestIntensityCameraFinalizeWithoutFrames(t *testing.T) {
	cam := NewIntensityCamera(testConfig(1, 0), openStore(t))
	err := cam.Observe(context.Background(), nil, 0, true)
	assert.True(t, errors.Is(err, simerr.ErrNotFound))
}
