package fuzzyhnsw

import (
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Index is the build, search and persistence contract the recall tooling is
// written against. Record ids are assigned in build-time insertion order,
// starting at 0.
type Index interface {
	Build(vectors []Point, cfg Config) error
	// Search runs one top-k query per vector. Ids set in filter are excluded
	// from the results; a nil filter excludes nothing.
	Search(queries []Point, cfg Config, filter *roaring.Bitmap) (*Result, error)
	Serialize(w io.Writer) error
	Deserialize(r io.Reader, cfg Config) error
	Len() int
}

var _ Index = (*Hnsw)(nil)

// MissingID pads result rows that found fewer than k records.
const MissingID int64 = -1

// MissingDistance is the distance reported next to MissingID.
const MissingDistance float32 = math.MaxFloat32

// Result holds nq rows of k (distance, id) pairs, row-major, each row sorted
// closest first.
type Result struct {
	NQ        int
	K         int
	Distances []float32
	IDs       []int64
}

// Row returns the distances and ids of query i.
func (r *Result) Row(i int) ([]float32, []int64) {
	lo, hi := i*r.K, (i+1)*r.K
	return r.Distances[lo:hi], r.IDs[lo:hi]
}

// NewIndex returns an empty index ready for Build or Deserialize.
func NewIndex() *Hnsw {
	return &Hnsw{}
}

// Build replaces the graph with vectors. vectors[i] gets record id i.
func (h *Hnsw) Build(vectors []Point, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return ErrEmptyDataset
	}
	for _, v := range vectors {
		if len(v) != cfg.Dim {
			return &ErrDimensionMismatch{Expected: cfg.Dim, Actual: len(v)}
		}
	}

	if err := h.reset(cfg.M, cfg.EfConstruction, vectors[0], cfg.MetricType, cfg.seed()); err != nil {
		return err
	}
	h.Grow(len(vectors))

	for i := 1; i < len(vectors); i++ {
		id, err := h.AddPoint(vectors[i])
		if err != nil {
			return fmt.Errorf("add vector %d: %w", i, err)
		}
		if id != uint32(i) {
			return fmt.Errorf("add vector %d: got id %d", i, id)
		}
	}
	return nil
}

// Search is safe for concurrent use once the index is built.
func (h *Hnsw) Search(queries []Point, cfg Config, filter *roaring.Bitmap) (*Result, error) {
	if h.Len() == 0 {
		return nil, ErrIndexNotBuilt
	}
	if cfg.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, cfg.K)
	}
	if cfg.MetricType != "" && cfg.MetricType.Canonical() != h.Metric {
		return nil, fmt.Errorf("%w: index metric is %s, query asks for %s", ErrInvalidConfig, h.Metric, cfg.MetricType)
	}
	dim := h.Dim()
	for _, q := range queries {
		if len(q) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(q)}
		}
	}

	var allow func(uint32) bool
	if filter != nil && !filter.IsEmpty() {
		allow = func(id uint32) bool { return !filter.Contains(id) }
	}

	k := cfg.K
	res := &Result{
		NQ:        len(queries),
		K:         k,
		Distances: make([]float32, len(queries)*k),
		IDs:       make([]int64, len(queries)*k),
	}
	for i, q := range queries {
		dist, ids := res.Row(i)
		rs := h.searchFiltered(q, cfg.searchEf(), k, allow)
		n := rs.Len()
		for j := n; j < k; j++ {
			dist[j], ids[j] = MissingDistance, MissingID
		}
		for j := n - 1; j >= 0; j-- {
			item := rs.Pop()
			dist[j], ids[j] = item.D, int64(item.ID)
		}
	}
	return res, nil
}
