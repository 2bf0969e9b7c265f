// Package runcache decides whether an existing run directory can be reused
// for a requested configuration, and applies the caller's policy when it
// cannot.
//
// Resolution is not safe for concurrent use against the same run name.
package runcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/fsutil"
	"github.com/banshee-data/opticsim/internal/monitoring"
	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/timeutil"
)

// State is the relation between a run directory and the requested config.
type State int

const (
	NoPriorRun State = iota
	PriorRunMatches
	PriorRunDiffers
)

func (s State) String() string {
	switch s {
	case NoPriorRun:
		return "no_prior_run"
	case PriorRunMatches:
		return "prior_run_matches"
	case PriorRunDiffers:
		return "prior_run_differs"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Policy resolves a PriorRunDiffers state.
type Policy int

const (
	// PolicyAbort stops without touching the run directory.
	PolicyAbort Policy = iota
	// PolicyArchiveAndRestart renames the old directory to a timestamped
	// backup and starts a fresh one.
	PolicyArchiveAndRestart
	// PolicySelectiveOverwrite replaces only the parameter record, keeping
	// precomputed atmosphere and aberration maps. Refused once field output
	// has been finalized.
	PolicySelectiveOverwrite
	// PolicyForceReuse keeps the old output despite the difference.
	PolicyForceReuse
)

var policyNames = map[Policy]string{
	PolicyAbort:              "abort",
	PolicyArchiveAndRestart:  "archive",
	PolicySelectiveOverwrite: "overwrite",
	PolicyForceReuse:         "reuse",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts a policy name or its single-letter alias:
// q (abort), r (archive), p (overwrite), l (reuse).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "q":
		return PolicyAbort, nil
	case "archive", "r":
		return PolicyArchiveAndRestart, nil
	case "overwrite", "p":
		return PolicySelectiveOverwrite, nil
	case "reuse", "l":
		return PolicyForceReuse, nil
	}
	return PolicyAbort, simerr.Configf("unknown cache policy %q", s)
}

// BackupTimeFormat names archived run directories: <name>_backup_<time>.
const BackupTimeFormat = "01:02:2006_15-04-05"

// Record is the persisted configuration snapshot of a run.
type Record struct {
	RunID   string         `json:"run_id"`
	Created time.Time      `json:"created"`
	Groups  []config.Group `json:"groups"`
}

// Outcome describes what Resolve found and did.
type Outcome struct {
	State  State
	Policy Policy
	RunDir string
	// Reuse is true when downstream stages should load cached output
	// instead of regenerating it.
	Reuse bool
	// BackupDir is set when the old run was archived.
	BackupDir  string
	Record     *Record
	Comparison Comparison
}

// Controller resolves run directories under a data directory.
type Controller struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

// NewController returns a controller on the real filesystem and clock.
func NewController() *Controller {
	return &Controller{fs: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
}

// NewControllerWith uses the given filesystem and clock.
func NewControllerWith(fs fsutil.FileSystem, clock timeutil.Clock) *Controller {
	return &Controller{fs: fs, clock: clock}
}

// Inspect reports the run's state without modifying anything. A record
// that cannot be read or decoded reports PriorRunDiffers.
func (c *Controller) Inspect(cfg *config.Params, name string) (State, Comparison, error) {
	runDir, err := cfg.IO.RunDir(name)
	if err != nil {
		return NoPriorRun, Comparison{}, err
	}
	paramsPath := filepath.Join(runDir, config.ParamsFile)
	if !c.fs.Exists(runDir) || !c.fs.Exists(paramsPath) {
		return NoPriorRun, Comparison{}, nil
	}
	cached, err := c.readRecord(paramsPath)
	if err != nil {
		// An unreadable record never matches; the caller's policy decides.
		monitoring.Log().WithField("run", name).Warnf("cached record unreadable: %v", err)
		return PriorRunDiffers, unreadable(err), nil
	}
	comparison := Compare(cfg.Groups(), cached.Groups)
	if comparison.ExactMatch() {
		return PriorRunMatches, comparison, nil
	}
	return PriorRunDiffers, comparison, nil
}

// Resolve brings the run directory for name into a state consistent with
// cfg, applying policy if a prior run's parameters differ. An aborted or
// refused resolution returns an error wrapping simerr.ErrCacheMismatch and
// leaves the filesystem untouched.
func (c *Controller) Resolve(cfg *config.Params, name string, policy Policy) (*Outcome, error) {
	runDir, err := cfg.IO.RunDir(name)
	if err != nil {
		return nil, err
	}
	if err := c.fs.MkdirAll(cfg.IO.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	state, comparison, err := c.Inspect(cfg, name)
	if err != nil {
		return nil, err
	}
	out := &Outcome{State: state, Policy: policy, RunDir: runDir, Comparison: comparison}
	log := monitoring.Log().WithFields(logrus.Fields{"run": name, "state": state.String()})

	switch state {
	case NoPriorRun:
		log.Info("no prior run, starting new run directory")
		out.Record, err = c.create(cfg, runDir)
		return out, err
	case PriorRunMatches:
		log.Info("configuration matches cached run")
		out.Reuse = true
		return out, nil
	}

	for _, m := range comparison.Mismatches {
		log.WithField("policy", policy.String()).Warnf("mismatch found: %s", m)
	}

	switch policy {
	case PolicyAbort:
		return out, fmt.Errorf("run %q: %w", name, simerr.ErrCacheMismatch)

	case PolicyArchiveAndRestart:
		backup := filepath.Join(cfg.IO.DataDir, name+"_backup_"+c.clock.Now().Format(BackupTimeFormat))
		if err := c.fs.Rename(runDir, backup); err != nil {
			return out, fmt.Errorf("archive run %q: %w", name, err)
		}
		log.WithField("backup", backup).Info("archived previous run")
		out.BackupDir = backup
		out.Record, err = c.create(cfg, runDir)
		return out, err

	case PolicySelectiveOverwrite:
		fields := filepath.Join(runDir, config.FieldsFile)
		if c.fs.Exists(fields) {
			return out, fmt.Errorf("run %q: %w; archive the run instead", name, simerr.ErrFieldsExist)
		}
		if err := c.fs.Remove(filepath.Join(runDir, config.ParamsFile)); err != nil {
			return out, fmt.Errorf("remove cached parameters: %w", err)
		}
		log.Info("replaced cached parameters, keeping precomputed maps")
		out.Record, err = c.create(cfg, runDir)
		return out, err

	case PolicyForceReuse:
		log.Warn("ignoring parameter difference and reusing cached run")
		out.Reuse = true
		return out, nil
	}
	return out, simerr.Configf("unknown cache policy %d", int(policy))
}

func (c *Controller) create(cfg *config.Params, runDir string) (*Record, error) {
	if err := c.fs.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	rec := &Record{
		RunID:   uuid.New().String(),
		Created: c.clock.Now().UTC(),
		Groups:  cfg.Groups(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode run record: %w", err)
	}
	if err := c.fs.WriteFile(filepath.Join(runDir, config.ParamsFile), data, 0644); err != nil {
		return nil, fmt.Errorf("write run record: %w", err)
	}
	return rec, nil
}

// ReadRecord loads the persisted record of a run directory.
func (c *Controller) ReadRecord(runDir string) (*Record, error) {
	return c.readRecord(filepath.Join(runDir, config.ParamsFile))
}

func (c *Controller) readRecord(path string) (*Record, error) {
	data, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", path, err)
	}
	return &rec, nil
}
