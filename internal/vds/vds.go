// Package vds models virtual datasets: N-dimensional array collections whose
// data values are byte-range references into upstream files rather than
// materialized bytes. Datasets concatenate along the time axis only.
package vds

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// TimeDim is the append dimension. Everything else is fixed spatial geometry.
const TimeDim = "time"

var ErrSchemaMismatch = errors.New("dataset schema mismatch")

// ChunkRef points at the bytes backing one variable at one timestep.
type ChunkRef struct {
	SourceURL string `json:"sourceUrl"`
	Offset    uint64 `json:"offset"`
	Length    uint64 `json:"length"`
	Codec     string `json:"codec,omitempty"`
	TimeIndex int    `json:"timeIndex"`
}

// VirtualDataset is one logical dataset. Vars holds, per variable, one chunk
// reference per timestep in time order. Dims holds the fixed spatial
// dimension sizes; the time dimension's length is len(Times).
type VirtualDataset struct {
	Times []time.Time           `json:"times"`
	Dims  map[string]int        `json:"dims"`
	Vars  map[string][]ChunkRef `json:"vars"`
	Attrs map[string]any        `json:"attrs"`
}

// Clone returns a deep copy.
func (d *VirtualDataset) Clone() *VirtualDataset {
	out := &VirtualDataset{
		Times: append([]time.Time(nil), d.Times...),
		Dims:  make(map[string]int, len(d.Dims)),
		Vars:  make(map[string][]ChunkRef, len(d.Vars)),
		Attrs: make(map[string]any, len(d.Attrs)),
	}
	for k, v := range d.Dims {
		out.Dims[k] = v
	}
	for k, refs := range d.Vars {
		out.Vars[k] = append([]ChunkRef(nil), refs...)
	}
	for k, v := range d.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// DropVars removes the named variables, tolerating ones already absent.
func (d *VirtualDataset) DropVars(names []string) {
	for _, n := range names {
		delete(d.Vars, n)
	}
}

// VarNames returns the variable names in sorted order.
func (d *VirtualDataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for n := range d.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SourceFilenames returns the set of base filenames referenced by any chunk.
func (d *VirtualDataset) SourceFilenames() map[string]bool {
	files := make(map[string]bool)
	for _, refs := range d.Vars {
		for _, ref := range refs {
			files[path.Base(strings.TrimSuffix(ref.SourceURL, "/"))] = true
		}
	}
	return files
}

// sameSchema reports whether two datasets have identical dimension and
// variable structure. Attribute maps are not part of the schema.
func sameSchema(a, b *VirtualDataset) error {
	if len(a.Dims) != len(b.Dims) {
		return fmt.Errorf("%w: dimension count %d vs %d", ErrSchemaMismatch, len(a.Dims), len(b.Dims))
	}
	for name, size := range a.Dims {
		got, ok := b.Dims[name]
		if !ok {
			return fmt.Errorf("%w: dimension %q missing", ErrSchemaMismatch, name)
		}
		if got != size {
			return fmt.Errorf("%w: dimension %q size %d vs %d", ErrSchemaMismatch, name, size, got)
		}
	}
	if len(a.Vars) != len(b.Vars) {
		return fmt.Errorf("%w: variable count %d vs %d", ErrSchemaMismatch, len(a.Vars), len(b.Vars))
	}
	for name := range a.Vars {
		if _, ok := b.Vars[name]; !ok {
			return fmt.Errorf("%w: variable %q missing", ErrSchemaMismatch, name)
		}
	}
	return nil
}

// Concat concatenates datasets along the time axis. Structural schemas must
// match exactly; attribute maps are reconciled via ReconcileAttrs.
func Concat(datasets ...*VirtualDataset) (*VirtualDataset, error) {
	if len(datasets) == 0 {
		return nil, errors.New("concat of zero datasets")
	}
	first := datasets[0]
	attrMaps := make([]map[string]any, 0, len(datasets))
	for _, d := range datasets[1:] {
		if err := sameSchema(first, d); err != nil {
			return nil, err
		}
	}
	for _, d := range datasets {
		attrMaps = append(attrMaps, d.Attrs)
	}
	attrs, err := ReconcileAttrs(attrMaps)
	if err != nil {
		return nil, err
	}

	out := &VirtualDataset{
		Dims:  make(map[string]int, len(first.Dims)),
		Vars:  make(map[string][]ChunkRef, len(first.Vars)),
		Attrs: attrs,
	}
	for k, v := range first.Dims {
		out.Dims[k] = v
	}
	for _, d := range datasets {
		base := len(out.Times)
		out.Times = append(out.Times, d.Times...)
		for name, refs := range d.Vars {
			for _, ref := range refs {
				ref.TimeIndex += base
				out.Vars[name] = append(out.Vars[name], ref)
			}
		}
	}
	return out, nil
}

// AppendTo extends dst with src along the time axis in place, leaving dst's
// attributes untouched. Append semantics deliberately do not regenerate
// attributes; callers that need reconciled attributes must set them
// explicitly beforehand.
func AppendTo(dst, src *VirtualDataset) error {
	if err := sameSchema(dst, src); err != nil {
		return err
	}
	base := len(dst.Times)
	dst.Times = append(dst.Times, src.Times...)
	for name, refs := range src.Vars {
		for _, ref := range refs {
			ref.TimeIndex += base
			dst.Vars[name] = append(dst.Vars[name], ref)
		}
	}
	return nil
}
