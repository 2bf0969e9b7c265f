package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/opticsim/internal/simerr"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if got := cfg.Sim.GetResultTimeout(); got != 30*time.Minute {
		t.Errorf("GetResultTimeout() = %v, want 30m", got)
	}
	if cfg.Astro.ObjectCount() != 1 {
		t.Errorf("ObjectCount() = %d, want 1", cfg.Astro.ObjectCount())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"zero wavelengths", func(p *Params) { p.Astro.NWvlInit = 0 }},
		{"descending range", func(p *Params) { p.Astro.WvlRange = [2]float64{1e-6, 5e-7} }},
		{"interp not larger", func(p *Params) { p.Astro.NWvlFinal = p.Astro.NWvlInit }},
		{"contrast count", func(p *Params) {
			p.Astro.Companion = true
			p.Astro.Contrast = []float64{1e-3}
		}},
		{"crop too large", func(p *Params) { p.Sim.MaskdSize = p.Sim.GridSize + 1 }},
		{"beam ratio", func(p *Params) { p.Sim.BeamRatio = 1.5 }},
		{"bad timeout", func(p *Params) { p.Sim.ResultTimeout = "soon" }},
		{"duplicate plane", func(p *Params) { p.Sim.SaveList = []string{"a", "a"} }},
		{"empty plane", func(p *Params) { p.Sim.SaveList = []string{""} }},
		{"no workers", func(p *Params) { p.Sim.NumProcesses = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, simerr.ErrConfiguration) {
				t.Errorf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSingleWavelengthSkipsInterpCheck(t *testing.T) {
	cfg := Default()
	cfg.Astro.NWvlInit = 1
	cfg.Astro.NWvlFinal = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if diff := cmp.Diff([]float64{800e-9}, cfg.Astro.Wavelengths()); diff != "" {
		t.Errorf("Wavelengths() mismatch (-want +got):\n%s", diff)
	}
	cfg.Astro.CSpec = 4
	if diff := cmp.Diff([]float64{0.25}, cfg.Astro.ContrastScaling()); diff != "" {
		t.Errorf("ContrastScaling() mismatch (-want +got):\n%s", diff)
	}
}

func TestWavelengthsAndScaling(t *testing.T) {
	a := Astro{WvlRange: [2]float64{800e-9, 1200e-9}, NWvlInit: 3, CSpec: 2}
	approx := cmpopts.EquateApprox(0, 1e-18)
	if diff := cmp.Diff([]float64{800e-9, 1000e-9, 1200e-9}, a.Wavelengths(), approx); diff != "" {
		t.Errorf("Wavelengths() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.5, 0.75, 1}, a.ContrastScaling(), approx); diff != "" {
		t.Errorf("ContrastScaling() mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaneIndex(t *testing.T) {
	s := Sim{SaveList: []string{"pupil", "detector"}}
	if s.PlaneIndex("detector") != 1 {
		t.Errorf("PlaneIndex(detector) = %d, want 1", s.PlaneIndex("detector"))
	}
	if s.PlaneIndex("lens") != -1 {
		t.Errorf("PlaneIndex(lens) = %d, want -1", s.PlaneIndex("lens"))
	}
	if s.InSaveList("") {
		t.Error("InSaveList(\"\") = true")
	}
}

func TestNumChunks(t *testing.T) {
	tests := []struct {
		frames, chunk, want int
	}{
		{10, 0, 1},
		{10, 10, 1},
		{10, 20, 1},
		{10, 3, 4},
		{9, 3, 3},
	}
	for _, tt := range tests {
		s := Sim{NumFrames: tt.frames, ChunkSteps: tt.chunk}
		if got := s.NumChunks(); got != tt.want {
			t.Errorf("NumChunks(frames=%d, chunk=%d) = %d, want %d", tt.frames, tt.chunk, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "run.json", `{
  "ap": {"n_wvl_init": 2, "n_wvl_final": 4, "wvl_range": [5e-7, 6e-7]},
  "sp": {"grid_size": 64, "maskd_size": 32, "save_list": ["pupil", "detector"], "result_timeout": "90s"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Astro.NWvlInit != 2 || cfg.Astro.NWvlFinal != 4 {
		t.Errorf("wavelength counts = %d->%d, want 2->4", cfg.Astro.NWvlInit, cfg.Astro.NWvlFinal)
	}
	if cfg.Sim.GetResultTimeout() != 90*time.Second {
		t.Errorf("GetResultTimeout() = %v, want 90s", cfg.Sim.GetResultTimeout())
	}
	// Untouched groups keep defaults.
	if cfg.Telescope.EntranceD != 8 {
		t.Errorf("EntranceD = %g, want default 8", cfg.Telescope.EntranceD)
	}
}

func TestLoadYAMLWithEnv(t *testing.T) {
	path := writeFile(t, "run.yaml", `
sp:
  grid_size: 32
  maskd_size: 16
  save_list: [detector]
ap:
  companion: true
  contrast: [0.01]
  companion_xy: [[1.0, -1.0]]
`)
	t.Setenv("OPTICSIM_DATA_DIR", "/tmp/opticsim-test")
	t.Setenv("OPTICSIM_NUM_PROCESSES", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sim.GridSize != 32 || cfg.Sim.MaskdSize != 16 {
		t.Errorf("grid = %d/%d, want 32/16", cfg.Sim.GridSize, cfg.Sim.MaskdSize)
	}
	if cfg.IO.DataDir != "/tmp/opticsim-test" {
		t.Errorf("DataDir = %q, want env override", cfg.IO.DataDir)
	}
	if cfg.Sim.NumProcesses != 3 {
		t.Errorf("NumProcesses = %d, want 3", cfg.Sim.NumProcesses)
	}
	if diff := cmp.Diff([][2]float64{{1, -1}}, cfg.Astro.CompanionXY); diff != "" {
		t.Errorf("CompanionXY mismatch (-want +got):\n%s", diff)
	}
	if cfg.Astro.ObjectCount() != 2 {
		t.Errorf("ObjectCount() = %d, want 2", cfg.Astro.ObjectCount())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(writeFile(t, "run.toml", "")); err == nil {
		t.Error("expected extension error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected stat error")
	}
	if _, err := Load(writeFile(t, "bad.json", "{")); err == nil {
		t.Error("expected parse error")
	}
	_, err := Load(writeFile(t, "invalid.json", `{"sp": {"beam_ratio": 2}}`))
	if !errors.Is(err, simerr.ErrConfiguration) {
		t.Errorf("Load() = %v, want ErrConfiguration", err)
	}

	t.Setenv("OPTICSIM_NUM_PROCESSES", "many")
	_, err = Load(writeFile(t, "ok.json", `{}`))
	if err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Errorf("Load() = %v, want env parse error", err)
	}
}

func TestGroupsOrder(t *testing.T) {
	groups := Default().Groups()
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	if diff := cmp.Diff(GroupOrder, names); diff != "" {
		t.Errorf("group order mismatch (-want +got):\n%s", diff)
	}
	io := groups[4]
	if len(io.Attrs) != 1 || io.Attrs[0].Name != "datadir" || io.Attrs[0].Value != "data" {
		t.Errorf("iop attrs = %+v", io.Attrs)
	}
	if groups[0].Attrs[0].Name != "wvl_range" {
		t.Errorf("first ap attr = %q, want wvl_range", groups[0].Attrs[0].Name)
	}
}

func TestRunDir(t *testing.T) {
	io := IO{DataDir: "/data"}
	dir, err := io.RunDir("run_01")
	if err != nil {
		t.Fatalf("RunDir() error: %v", err)
	}
	if dir != filepath.Join("/data", "run_01") {
		t.Errorf("RunDir() = %q", dir)
	}
	for _, bad := range []string{"", "../escape", "a/b", ".hidden", "with space"} {
		if _, err := io.RunDir(bad); !errors.Is(err, simerr.ErrConfiguration) {
			t.Errorf("RunDir(%q) = %v, want ErrConfiguration", bad, err)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"run 1/x":  "run_1_x",
		"../../a":  "a",
		"__ok__":   "ok",
		"":         "unknown",
		"plain-01": "plain-01",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
