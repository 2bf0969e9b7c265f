package runcache

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/opticsim/internal/config"
	"github.com/banshee-data/opticsim/internal/monitoring"
)

// Mismatch is one attribute pair that did not compare equal.
type Mismatch struct {
	Group      string
	Attr       string
	CachedAttr string
	Current    any
	Cached     any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: this_attr=%s load_attr=%s this_val=%v load_val=%v",
		m.Group, m.Attr, m.CachedAttr, m.Current, m.Cached)
}

// Comparison is the per-group outcome of comparing two cache records.
type Comparison struct {
	Groups     map[string]bool
	Mismatches []Mismatch
}

// UnreadableRecord is the CachedAttr of the mismatch reported for a cached
// record that could not be read.
const UnreadableRecord = "<unreadable record>"

func unreadable(err error) Comparison {
	return Comparison{
		Groups: map[string]bool{"*": false},
		Mismatches: []Mismatch{{
			Group: "*", Attr: "*", CachedAttr: UnreadableRecord, Cached: err.Error(),
		}},
	}
}

// ExactMatch reports whether every group matched.
func (c Comparison) ExactMatch() bool {
	for _, ok := range c.Groups {
		if !ok {
			return false
		}
	}
	return true
}

// Compare walks each current group against the cached group of the same
// name, pairing attributes by position. A pair matches when the names agree
// and the values are deeply equal after both are normalised to their JSON
// form, so a [2]float64 compares equal to the []any read back from disk.
// Values that cannot be normalised or compared count as mismatches. A group
// missing from the cache, or one with a different attribute count, does not
// match.
func Compare(current, cached []config.Group) Comparison {
	byName := make(map[string]config.Group, len(cached))
	for _, g := range cached {
		byName[g.Name] = g
	}

	res := Comparison{Groups: make(map[string]bool, len(current))}
	for _, cur := range current {
		old, ok := byName[cur.Name]
		if !ok {
			res.Groups[cur.Name] = false
			res.Mismatches = append(res.Mismatches, Mismatch{Group: cur.Name, Attr: "*", CachedAttr: "<missing group>"})
			continue
		}
		match := len(cur.Attrs) == len(old.Attrs)
		n := min(len(cur.Attrs), len(old.Attrs))
		for i := 0; i < n; i++ {
			a, b := cur.Attrs[i], old.Attrs[i]
			if a.Name == b.Name && valuesEqual(a.Value, b.Value) {
				continue
			}
			match = false
			res.Mismatches = append(res.Mismatches, Mismatch{
				Group: cur.Name, Attr: a.Name, CachedAttr: b.Name, Current: a.Value, Cached: b.Value,
			})
		}
		if len(cur.Attrs) != len(old.Attrs) {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Group: cur.Name, Attr: fmt.Sprintf("%d attrs", len(cur.Attrs)),
				CachedAttr: fmt.Sprintf("%d attrs", len(old.Attrs)),
			})
		}
		res.Groups[cur.Name] = match
	}
	return res
}

// valuesEqual never panics; any failure is a mismatch.
func valuesEqual(a, b any) (eq bool) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("runcache: comparison failed: %v", r)
			eq = false
		}
	}()
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	return cmp.Equal(na, nb)
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
