// Package fieldstore persists a run's per-timestep plane snapshots and its
// camera products in a sqlite file (fields.db), along with the ledger of
// flushed chunks that lets an interrupted run resume.
package fieldstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/opticsim/internal/simerr"
	"github.com/banshee-data/opticsim/internal/tensor"
	"github.com/banshee-data/opticsim/internal/wavefront"
)

// Layout is the per-timestep snapshot shape shared by every stored step.
type Layout struct {
	Planes []string
	NWvl   int
	NObj   int
	Grid   int
}

func (l Layout) equal(o Layout) bool {
	if l.NWvl != o.NWvl || l.NObj != o.NObj || l.Grid != o.Grid || len(l.Planes) != len(o.Planes) {
		return false
	}
	for i := range l.Planes {
		if l.Planes[i] != o.Planes[i] {
			return false
		}
	}
	return true
}

// stepSize is the number of complex values in one timestep.
func (l Layout) stepSize() int {
	return len(l.Planes) * l.NWvl * l.NObj * l.Grid * l.Grid
}

// Span is a contiguous run of stored timesteps.
type Span struct {
	// Steps are the absolute timestep indices present, ascending.
	Steps  []int
	Planes []string
	// Fields has shape (step, plane, wavelength, object, x, y).
	Fields *tensor.Dense[complex128]
	// Sampling has shape (step, plane, wavelength).
	Sampling *tensor.Dense[float64]
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Store is an open fields.db.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path is the file the store was opened from.
func (s *Store) Path() string { return s.path }

// Layout returns the stored snapshot shape. A store with no steps returns
// an error wrapping simerr.ErrNotFound.
func (s *Store) Layout() (Layout, error) {
	var (
		l      Layout
		planes string
	)
	err := s.db.QueryRow(`SELECT planes, n_wvl, n_obj, grid FROM layout WHERE id = 1`).
		Scan(&planes, &l.NWvl, &l.NObj, &l.Grid)
	if errors.Is(err, sql.ErrNoRows) {
		return Layout{}, simerr.NotFoundf("no field layout in %s", s.path)
	}
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}
	if err := json.Unmarshal([]byte(planes), &l.Planes); err != nil {
		return Layout{}, fmt.Errorf("decode plane list: %w", err)
	}
	return l, nil
}

func archiveLayout(a *wavefront.Archive) Layout {
	shape := a.Fields.Shape()
	return Layout{
		Planes: append([]string(nil), a.Planes...),
		NWvl:   shape[1],
		NObj:   shape[2],
		Grid:   shape[3],
	}
}

// SaveStep stores one timestep's archive. The first saved step fixes the
// layout; later steps with a different plane list or shape are rejected with
// simerr.ErrConfiguration. Saving a timestep twice replaces it.
func (s *Store) SaveStep(timestep int, a *wavefront.Archive) error {
	if timestep < 0 {
		return simerr.Configf("negative timestep %d", timestep)
	}
	if a.Len() == 0 {
		return simerr.Configf("timestep %d has no saved planes", timestep)
	}
	want := archiveLayout(a)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var planes string
	var have Layout
	err = tx.QueryRow(`SELECT planes, n_wvl, n_obj, grid FROM layout WHERE id = 1`).
		Scan(&planes, &have.NWvl, &have.NObj, &have.Grid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		enc, _ := json.Marshal(want.Planes)
		if _, err := tx.Exec(`INSERT INTO layout (id, planes, n_wvl, n_obj, grid) VALUES (1, ?, ?, ?, ?)`,
			string(enc), want.NWvl, want.NObj, want.Grid); err != nil {
			return fmt.Errorf("write layout: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read layout: %w", err)
	default:
		if err := json.Unmarshal([]byte(planes), &have.Planes); err != nil {
			return fmt.Errorf("decode plane list: %w", err)
		}
		if !have.equal(want) {
			return simerr.Configf("timestep %d layout %+v differs from stored %+v", timestep, want, have)
		}
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO steps (timestep, fields, sampling) VALUES (?, ?, ?)`,
		timestep, encodeComplex(a.Fields.Data()), encodeFloat(a.Sampling.Data())); err != nil {
		return fmt.Errorf("write timestep %d: %w", timestep, err)
	}
	return tx.Commit()
}

// Count is the number of stored timesteps.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM steps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return n, nil
}

// LoadSpan returns the stored timesteps in [start, end), ascending. Steps
// never written, such as those lost to a worker failure, are absent from the
// span rather than zero-filled.
func (s *Store) LoadSpan(start, end int) (*Span, error) {
	if start < 0 || end < start {
		return nil, simerr.Configf("bad span [%d, %d)", start, end)
	}
	l, err := s.Layout()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT timestep, fields, sampling FROM steps
		WHERE timestep >= ? AND timestep < ? ORDER BY timestep`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query span: %w", err)
	}
	defer rows.Close()

	n := l.stepSize()
	nsamp := len(l.Planes) * l.NWvl
	span := &Span{Planes: l.Planes}
	var fields []complex128
	var sampling []float64
	for rows.Next() {
		var (
			ts        int
			fblob     []byte
			sblob     []byte
			stepField = make([]complex128, n)
			stepSamp  = make([]float64, nsamp)
		)
		if err := rows.Scan(&ts, &fblob, &sblob); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := decodeComplex(fblob, stepField); err != nil {
			return nil, fmt.Errorf("timestep %d: %w", ts, err)
		}
		if err := decodeFloat(sblob, stepSamp); err != nil {
			return nil, fmt.Errorf("timestep %d: %w", ts, err)
		}
		span.Steps = append(span.Steps, ts)
		fields = append(fields, stepField...)
		sampling = append(sampling, stepSamp...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate span: %w", err)
	}

	k := len(span.Steps)
	if span.Fields, err = tensor.FromSlice(fields, k, len(l.Planes), l.NWvl, l.NObj, l.Grid, l.Grid); err != nil {
		return nil, err
	}
	if span.Sampling, err = tensor.FromSlice(sampling, k, len(l.Planes), l.NWvl); err != nil {
		return nil, err
	}
	return span, nil
}

// MarkChunk records that chunk covering [start, end) has been flushed.
func (s *Store) MarkChunk(chunk, start, end int) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO chunks (chunk, start_step, end_step) VALUES (?, ?, ?)`,
		chunk, start, end); err != nil {
		return fmt.Errorf("mark chunk %d: %w", chunk, err)
	}
	return nil
}

// ChunkDone reports whether chunk has been flushed.
func (s *Store) ChunkDone(chunk int) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE chunk = ?`, chunk).Scan(&n); err != nil {
		return false, fmt.Errorf("query chunk %d: %w", chunk, err)
	}
	return n > 0, nil
}

// SaveProduct stores a camera product under name, replacing any earlier
// partial version.
func (s *Store) SaveProduct(name string, data *tensor.Dense[float64], finalized bool) error {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO products (name, shape, data, finalized, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		name, formatShape(data.Shape()), encodeFloat(data.Data()), finalized); err != nil {
		return fmt.Errorf("save product %s: %w", name, err)
	}
	return nil
}

// Product loads a stored product and whether it was finalized.
func (s *Store) Product(name string) (*tensor.Dense[float64], bool, error) {
	var (
		shapeStr  string
		blob      []byte
		finalized bool
	)
	err := s.db.QueryRow(`SELECT shape, data, finalized FROM products WHERE name = ?`, name).
		Scan(&shapeStr, &blob, &finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, simerr.NotFoundf("product %q", name)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read product %s: %w", name, err)
	}
	shape, err := parseShape(shapeStr)
	if err != nil {
		return nil, false, fmt.Errorf("product %s: %w", name, err)
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]float64, size)
	if err := decodeFloat(blob, data); err != nil {
		return nil, false, fmt.Errorf("product %s: %w", name, err)
	}
	t, err := tensor.FromSlice(data, shape...)
	if err != nil {
		return nil, false, err
	}
	return t, finalized, nil
}

// Finalized reports whether the named product exists and is complete.
func (s *Store) Finalized(name string) (bool, error) {
	var done bool
	err := s.db.QueryRow(`SELECT finalized FROM products WHERE name = ?`, name).Scan(&done)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read product %s: %w", name, err)
	}
	return done, nil
}

// MarkFinalized flags a product that has no array of its own, such as the
// per-step fields, as complete.
func (s *Store) MarkFinalized(name string) error {
	if _, err := s.db.Exec(`INSERT INTO products (name, shape, data, finalized) VALUES (?, '', x'', 1)
		ON CONFLICT(name) DO UPDATE SET finalized = 1, updated_at = CURRENT_TIMESTAMP`, name); err != nil {
		return fmt.Errorf("finalize product %s: %w", name, err)
	}
	return nil
}
