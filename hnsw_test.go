package fuzzyhnsw

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/codec"
)

// clusteredPoints returns n vectors drawn around a handful of centers, the
// way near-duplicate samples cluster in a fuzzy-hash corpus.
func clusteredPoints(r *rand.Rand, n, dim int) []Point {
	centers := make([]Point, 8)
	for i := range centers {
		centers[i] = randomPoint(r, dim)
	}
	points := make([]Point, n)
	for i := range points {
		c := centers[r.Intn(len(centers))]
		p := make(Point, dim)
		copy(p, c)
		for flips := 0; flips < 12; flips++ {
			p[r.Intn(dim)] ^= 1 << uint(r.Intn(32))
		}
		points[i] = p
	}
	return points
}

func randomPoint(r *rand.Rand, dim int) Point {
	p := make(Point, dim)
	for i := range p {
		p[i] = r.Uint32()
	}
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.K = 1
	cfg.Seed = 7
	return cfg
}

func buildSmall(t *testing.T, n int) (*Hnsw, []Point, Config) {
	t.Helper()
	cfg := testConfig()
	points := clusteredPoints(rand.New(rand.NewSource(1)), n, cfg.Dim)
	h := NewIndex()
	require.NoError(t, h.Build(points, cfg))
	return h, points, cfg
}

func TestBuildAssignsInsertionOrderIDs(t *testing.T) {
	h, points, cfg := buildSmall(t, 64)
	require.Equal(t, 64, h.Len())
	assert.Equal(t, uint32(63), h.NextID())

	res, err := h.Search(points, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, len(points), res.NQ)

	for i := range points {
		dist, ids := res.Row(i)
		assert.Equal(t, float32(0), dist[0], "query %d", i)
		assert.Equal(t, int64(i), ids[0], "query %d", i)
	}
}

func TestSearchRowsSortedClosestFirst(t *testing.T) {
	h, points, cfg := buildSmall(t, 64)
	cfg.K = 5

	res, err := h.Search(points[:3], cfg, nil)
	require.NoError(t, err)
	for i := 0; i < res.NQ; i++ {
		dist, _ := res.Row(i)
		for j := 1; j < len(dist); j++ {
			assert.LessOrEqual(t, dist[j-1], dist[j])
		}
	}
}

func TestSearchMatchesBruteForceOnLargerGraph(t *testing.T) {
	cfg := testConfig()
	points := clusteredPoints(rand.New(rand.NewSource(3)), 1000, cfg.Dim)
	h := NewIndex()
	require.NoError(t, h.Build(points, cfg))

	hits := 0
	for i := 0; i < 100; i++ {
		hits += int(h.Benchmark(points[i], cfg.Ef, 1))
	}
	assert.GreaterOrEqual(t, hits, 90)
}

func TestSearchFilterExcludesIDs(t *testing.T) {
	h, points, cfg := buildSmall(t, 64)

	filter := roaring.BitmapOf(5)
	res, err := h.Search([]Point{points[5]}, cfg, filter)
	require.NoError(t, err)

	dist, ids := res.Row(0)
	assert.NotEqual(t, int64(5), ids[0])
	assert.Greater(t, dist[0], float32(0))
}

func TestSearchPadsShortRows(t *testing.T) {
	cfg := testConfig()
	cfg.K = 4
	points := clusteredPoints(rand.New(rand.NewSource(2)), 2, cfg.Dim)

	h := NewIndex()
	require.NoError(t, h.Build(points, cfg))

	res, err := h.Search(points[:1], cfg, nil)
	require.NoError(t, err)

	dist, ids := res.Row(0)
	assert.Equal(t, int64(0), ids[0])
	assert.Equal(t, []int64{MissingID, MissingID}, ids[2:])
	assert.Equal(t, []float32{MissingDistance, MissingDistance}, dist[2:])
}

func TestSearchErrors(t *testing.T) {
	_, err := NewIndex().Search([]Point{make(Point, 9)}, testConfig(), nil)
	assert.ErrorIs(t, err, ErrIndexNotBuilt)

	h, _, cfg := buildSmall(t, 8)

	_, err = h.Search([]Point{make(Point, 3)}, cfg, nil)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 9, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	bad := cfg
	bad.MetricType = Jaccard
	_, err = h.Search([]Point{make(Point, 9)}, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = cfg
	bad.K = 0
	_, err = h.Search([]Point{make(Point, 9)}, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildErrors(t *testing.T) {
	cfg := testConfig()

	assert.ErrorIs(t, NewIndex().Build(nil, cfg), ErrEmptyDataset)

	err := NewIndex().Build([]Point{make(Point, 9), make(Point, 8)}, cfg)
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	bad := cfg
	bad.MetricType = "TLSH"
	assert.ErrorIs(t, NewIndex().Build([]Point{make(Point, 9)}, bad), ErrInvalidConfig)
}

func TestJaccardIndex(t *testing.T) {
	cfg := testConfig()
	cfg.MetricType = Jaccard
	points := clusteredPoints(rand.New(rand.NewSource(4)), 32, cfg.Dim)

	h := NewIndex()
	require.NoError(t, h.Build(points, cfg))

	res, err := h.Search(points[10:11], cfg, nil)
	require.NoError(t, err)
	dist, ids := res.Row(0)
	assert.Equal(t, int64(10), ids[0])
	assert.InDelta(t, 0, dist[0], 1e-9)
}

func TestSerializeRoundTrip(t *testing.T) {
	h, points, cfg := buildSmall(t, 64)

	var buf bytes.Buffer
	require.NoError(t, h.Serialize(&buf))

	loaded := NewIndex()
	require.NoError(t, loaded.Deserialize(&buf, cfg))
	assert.Equal(t, h.Len(), loaded.Len())
	assert.Equal(t, h.NextID(), loaded.NextID())

	want, err := h.Search(points, cfg, nil)
	require.NoError(t, err)
	got, err := loaded.Search(points, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeserializeChecksConfig(t *testing.T) {
	h, _, cfg := buildSmall(t, 8)
	var buf bytes.Buffer
	require.NoError(t, h.Serialize(&buf))
	data := buf.Bytes()

	other := cfg
	other.Dim = 4
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, NewIndex().Deserialize(bytes.NewReader(data), other), &dm)

	other = cfg
	other.MetricType = Jaccard
	assert.ErrorIs(t, NewIndex().Deserialize(bytes.NewReader(data), other), ErrInvalidConfig)

	assert.ErrorIs(t, NewIndex().Deserialize(bytes.NewReader(data[:len(data)/2]), cfg), ErrCorruptIndex)
	assert.ErrorIs(t, NewIndex().Deserialize(bytes.NewReader([]byte("nope")), cfg), ErrCorruptIndex)
}

func TestDeserializeRejectsBadLevels(t *testing.T) {
	tests := map[string]func(h *Hnsw){
		"level above max layer": func(h *Hnsw) {
			h.nodes[(h.enterpoint+1)%uint32(len(h.nodes))].level = h.maxLayer + 5
		},
		"negative level": func(h *Hnsw) {
			h.nodes[(h.enterpoint+1)%uint32(len(h.nodes))].level = -1
		},
		"extra friend layers": func(h *Hnsw) {
			n := &h.nodes[(h.enterpoint+1)%uint32(len(h.nodes))]
			for len(n.friends) <= n.level+1 {
				n.friends = append(n.friends, nil)
			}
		},
		"negative max layer": func(h *Hnsw) {
			h.maxLayer = -1
			h.nodes[h.enterpoint].level = -1
		},
	}
	for name, corrupt := range tests {
		t.Run(name, func(t *testing.T) {
			h, _, cfg := buildSmall(t, 4)
			corrupt(h)

			var buf bytes.Buffer
			require.NoError(t, h.Serialize(&buf))
			assert.ErrorIs(t, NewIndex().Deserialize(&buf, cfg), ErrCorruptIndex)
		})
	}
}

func TestSerializeEmptyIndex(t *testing.T) {
	assert.ErrorIs(t, NewIndex().Serialize(&bytes.Buffer{}), ErrIndexNotBuilt)
}

func TestSaveLoadEveryCompression(t *testing.T) {
	h, points, cfg := buildSmall(t, 32)
	want, err := h.Search(points, cfg, nil)
	require.NoError(t, err)

	for _, c := range []codec.Compression{codec.CompressionNone, codec.CompressionGzip, codec.CompressionZSTD, codec.CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, h.Save(&buf, c))

			loaded, ts, err := Load(&buf, cfg)
			require.NoError(t, err)
			assert.Positive(t, ts)

			got, err := loaded.Search(points, cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveFileLoadFile(t *testing.T) {
	h, _, cfg := buildSmall(t, 16)
	path := filepath.Join(t.TempDir(), "tlsh.idx")

	require.NoError(t, h.SaveFile(path, codec.CompressionGzip))

	loaded, _, err := LoadFile(path, cfg)
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.Len())
}

func TestLoadRejectsForeignFile(t *testing.T) {
	_, _, err := Load(bytes.NewReader([]byte("PK\x03\x04junk")), testConfig())
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestAddPointAfterBuild(t *testing.T) {
	h, points, _ := buildSmall(t, 16)

	id, err := h.AddPoint(points[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(16), id)
	assert.Equal(t, 17, h.Len())

	_, err = h.AddPoint(make(Point, 2))
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestNewRejectsUnknownMetric(t *testing.T) {
	_, err := New(16, 100, make(Point, 9), "EUCLID")
	assert.ErrorIs(t, err, ErrUnsupportedMetric)
}

func TestStats(t *testing.T) {
	h, _, _ := buildSmall(t, 64)
	s := h.Stats()
	assert.Contains(t, s, "Number of nodes: 64")
	assert.Contains(t, s, "Metric: HAMMING")
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"dim": 72, "k": 100, "metric_type": "hamming", "M": 16, "efConstruction": 100, "ef": 100}`))
	require.NoError(t, err)
	assert.Equal(t, Config{Dim: 72, K: 100, MetricType: Hamming, M: 16, EfConstruction: 100, Ef: 100}, cfg)

	cfg, err = ParseConfig([]byte(`{"k": 5}`))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Dim)
	assert.Equal(t, 5, cfg.K)

	_, err = ParseConfig([]byte(`{"metric_type": "TLSH"}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`{"M": 1}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`{`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	data, err := DefaultConfig().JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"dim":9,"k":1,"metric_type":"HAMMING","M":16,"efConstruction":128,"ef":100}`, string(data))
}
