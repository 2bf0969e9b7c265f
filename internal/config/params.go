package config

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/opticsim/internal/simerr"
)

// Params is the full set of configuration groups in effect for a run. It is
// built once per run and passed explicitly to every stage; nothing reads
// configuration from package state.
type Params struct {
	Astro      Astro      `json:"ap" yaml:"ap"`
	Telescope  Telescope  `json:"tp" yaml:"tp"`
	Atmosphere Atmosphere `json:"atmp" yaml:"atmp"`
	Camera     Camera     `json:"cdip" yaml:"cdip"`
	IO         IO         `json:"iop" yaml:"iop"`
	Sim        Sim        `json:"sp" yaml:"sp"`
	MKID       MKID       `json:"mp" yaml:"mp"`
}

// Astro holds astrophysical parameters.
type Astro struct {
	WvlRange  [2]float64 `json:"wvl_range" yaml:"wvl_range"` // metres
	NWvlInit  int        `json:"n_wvl_init" yaml:"n_wvl_init"`
	NWvlFinal int        `json:"n_wvl_final" yaml:"n_wvl_final"`
	InterpWvl bool       `json:"interp_wvl" yaml:"interp_wvl"`

	Companion   bool         `json:"companion" yaml:"companion"`
	Contrast    []float64    `json:"contrast" yaml:"contrast"`
	CompanionXY [][2]float64 `json:"companion_xy" yaml:"companion_xy"`
	// CSpec sets the companion contrast slope across the band: the scaling
	// runs linearly from 1/CSpec at the shortest wavelength to 1.
	CSpec float64 `json:"c_spec" yaml:"c_spec"`
}

// Telescope holds the optical train parameters used by prescriptions.
type Telescope struct {
	Prescription string     `json:"prescription" yaml:"prescription"`
	EntranceD    float64    `json:"entrance_d" yaml:"entrance_d"` // metres
	FLens        float64    `json:"f_lens" yaml:"f_lens"`         // metres
	Obscure      bool       `json:"obscure" yaml:"obscure"`
	M2Frac       float64    `json:"m2_frac" yaml:"m2_frac"`
	DSecondary   float64    `json:"d_secondary" yaml:"d_secondary"`
	LegsFrac     float64    `json:"legs_frac" yaml:"legs_frac"`
	PixShift     [2]int     `json:"pix_shift" yaml:"pix_shift"`
	UseAtmos     bool       `json:"use_atmos" yaml:"use_atmos"`
	UseAO        bool       `json:"use_ao" yaml:"use_ao"`
	AOAct        int        `json:"ao_act" yaml:"ao_act"`
	OccultLoc    [2]float64 `json:"occult_loc" yaml:"occult_loc"`
}

// Atmosphere parameters are consumed by the external phase-screen generator.
// They take part in cache comparison because cached screens depend on them.
type Atmosphere struct {
	Model     string  `json:"model" yaml:"model"`
	R0        float64 `json:"r0" yaml:"r0"`
	L0        float64 `json:"l0" yaml:"l0"`
	WindSpeed float64 `json:"wind_speed" yaml:"wind_speed"`
}

// Camera holds coronagraphic differential imaging probe settings.
type Camera struct {
	UseCDI   bool    `json:"use_cdi" yaml:"use_cdi"`
	NProbes  int     `json:"n_probes" yaml:"n_probes"`
	ProbeAmp float64 `json:"probe_amp" yaml:"probe_amp"`
}

// IO locates run output.
type IO struct {
	DataDir string `json:"datadir" yaml:"datadir" env:"OPTICSIM_DATA_DIR"`
}

// Sim holds simulation and sampling parameters.
type Sim struct {
	NumFrames    int     `json:"numframes" yaml:"numframes"`
	StartFrame   int     `json:"startframe" yaml:"startframe"`
	SampleTime   float64 `json:"sample_time" yaml:"sample_time"` // seconds
	NumProcesses int     `json:"num_processes" yaml:"num_processes" env:"OPTICSIM_NUM_PROCESSES"`
	ChunkSteps   int     `json:"chunk_steps" yaml:"chunk_steps"` // 0 disables chunking

	GridSize   int     `json:"grid_size" yaml:"grid_size"`
	MaskdSize  int     `json:"maskd_size" yaml:"maskd_size"`
	BeamRatio  float64 `json:"beam_ratio" yaml:"beam_ratio"`
	FocusedSys bool    `json:"focused_sys" yaml:"focused_sys"`

	SaveFields bool     `json:"save_fields" yaml:"save_fields"`
	SaveList   []string `json:"save_list" yaml:"save_list"`
	SaveToDisk bool     `json:"save_to_disk" yaml:"save_to_disk"`

	// ResultTimeout bounds the wait for each worker result, e.g. "10m".
	ResultTimeout string `json:"result_timeout" yaml:"result_timeout"`
	Verbose       bool   `json:"verbose" yaml:"verbose"`
	SamplingUnits string `json:"sampling_units" yaml:"sampling_units"`
	AutoLoad      bool   `json:"auto_load" yaml:"auto_load" env:"OPTICSIM_AUTO_LOAD"`
}

// MKID holds detector array parameters for the photon stage.
type MKID struct {
	ArrayShape  [2]int  `json:"array_shape" yaml:"array_shape"`
	RMean       float64 `json:"r_mean" yaml:"r_mean"`
	DeadPixFrac float64 `json:"dead_pix_frac" yaml:"dead_pix_frac"`
	DarkCounts  bool    `json:"dark_counts" yaml:"dark_counts"`
}

// Default returns the baseline configuration.
func Default() *Params {
	return &Params{
		Astro: Astro{
			WvlRange:  [2]float64{800e-9, 1500e-9},
			NWvlInit:  3,
			NWvlFinal: 6,
			InterpWvl: true,
			CSpec:     1,
		},
		Telescope: Telescope{
			Prescription: "general_telescope",
			EntranceD:    8,
			FLens:        200 * 8,
			M2Frac:       1.0 / 8,
			LegsFrac:     0.05,
			AOAct:        14,
		},
		Atmosphere: Atmosphere{
			Model:     "single",
			R0:        0.2,
			L0:        10,
			WindSpeed: 5,
		},
		Camera: Camera{NProbes: 4, ProbeAmp: 2e-8},
		IO:     IO{DataDir: "data"},
		Sim: Sim{
			NumFrames:     1,
			SampleTime:    0.01,
			NumProcesses:  1,
			GridSize:      128,
			MaskdSize:     128,
			BeamRatio:     0.25,
			SaveFields:    true,
			SaveList:      []string{"detector"},
			SaveToDisk:    true,
			ResultTimeout: "30m",
			SamplingUnits: "m",
		},
		MKID: MKID{ArrayShape: [2]int{128, 128}, RMean: 50, DeadPixFrac: 0.1},
	}
}

// Validate checks ranges and cross-field consistency.
func (p *Params) Validate() error {
	a, t, s := p.Astro, p.Telescope, p.Sim
	switch {
	case a.NWvlInit < 1:
		return simerr.Configf("n_wvl_init must be >= 1, got %d", a.NWvlInit)
	case a.WvlRange[0] <= 0 || a.WvlRange[1] < a.WvlRange[0]:
		return simerr.Configf("wvl_range %v must be positive and ascending", a.WvlRange)
	case a.InterpWvl && a.NWvlInit > 1 && a.NWvlFinal <= a.NWvlInit:
		return simerr.Configf("n_wvl_final (%d) must exceed n_wvl_init (%d) when interp_wvl is set",
			a.NWvlFinal, a.NWvlInit)
	case a.Companion && len(a.Contrast) != len(a.CompanionXY):
		return simerr.Configf("%d contrasts for %d companion positions", len(a.Contrast), len(a.CompanionXY))
	case a.CSpec <= 0:
		return simerr.Configf("c_spec must be positive, got %g", a.CSpec)
	case t.EntranceD <= 0:
		return simerr.Configf("entrance_d must be positive, got %g", t.EntranceD)
	case s.GridSize < 1:
		return simerr.Configf("grid_size must be >= 1, got %d", s.GridSize)
	case s.MaskdSize < 1 || s.MaskdSize > s.GridSize:
		return simerr.Configf("maskd_size %d must be within [1, grid_size=%d]", s.MaskdSize, s.GridSize)
	case s.BeamRatio <= 0 || s.BeamRatio > 1:
		return simerr.Configf("beam_ratio must be in (0, 1], got %g", s.BeamRatio)
	case s.NumFrames < 0 || s.StartFrame < 0:
		return simerr.Configf("numframes and startframe must be non-negative")
	case s.NumProcesses < 1:
		return simerr.Configf("num_processes must be >= 1, got %d", s.NumProcesses)
	case s.ChunkSteps < 0:
		return simerr.Configf("chunk_steps must be non-negative, got %d", s.ChunkSteps)
	}
	if s.ResultTimeout != "" {
		if _, err := time.ParseDuration(s.ResultTimeout); err != nil {
			return simerr.Configf("invalid result_timeout %q: %v", s.ResultTimeout, err)
		}
	}
	seen := make(map[string]bool, len(s.SaveList))
	for _, name := range s.SaveList {
		if name == "" || seen[name] {
			return simerr.Configf("save_list entries must be unique and non-empty: %v", s.SaveList)
		}
		seen[name] = true
	}
	return nil
}

// ObjectCount is one star plus any companions.
func (a Astro) ObjectCount() int {
	if !a.Companion {
		return 1
	}
	return 1 + len(a.Contrast)
}

// Wavelengths returns NWvlInit samples spanning WvlRange.
func (a Astro) Wavelengths() []float64 {
	if a.NWvlInit == 1 {
		return []float64{a.WvlRange[0]}
	}
	return floats.Span(make([]float64, a.NWvlInit), a.WvlRange[0], a.WvlRange[1])
}

// ContrastScaling is the per-wavelength companion contrast multiplier,
// rising linearly from 1/CSpec at the shortest wavelength to 1. A single
// wavelength takes the starting value, as Wavelengths does.
func (a Astro) ContrastScaling() []float64 {
	if a.NWvlInit == 1 {
		return []float64{1 / a.CSpec}
	}
	return floats.Span(make([]float64, a.NWvlInit), 1/a.CSpec, 1)
}

// PlaneIndex returns name's position in the save list, or -1.
func (s Sim) PlaneIndex(name string) int {
	for i, n := range s.SaveList {
		if n == name {
			return i
		}
	}
	return -1
}

// InSaveList reports whether name is eligible for snapshotting.
func (s Sim) InSaveList(name string) bool {
	return name != "" && s.PlaneIndex(name) >= 0
}

// GetResultTimeout parses ResultTimeout, defaulting to 30 minutes.
func (s Sim) GetResultTimeout() time.Duration {
	if s.ResultTimeout == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(s.ResultTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// NumChunks returns how many chunks the frame range splits into.
func (s Sim) NumChunks() int {
	if s.ChunkSteps <= 0 || s.ChunkSteps >= s.NumFrames {
		return 1
	}
	return (s.NumFrames + s.ChunkSteps - 1) / s.ChunkSteps
}

// String summarises the run shape for logs.
func (p *Params) String() string {
	return fmt.Sprintf("frames=%d wvl=%d->%d objects=%d grid=%d save=%v",
		p.Sim.NumFrames, p.Astro.NWvlInit, p.Astro.NWvlFinal, p.Astro.ObjectCount(),
		p.Sim.GridSize, p.Sim.SaveList)
}
