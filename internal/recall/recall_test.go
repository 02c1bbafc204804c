package recall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/dataset"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
)

// fakeIndex answers every query with a fixed distance row, keyed by the
// first word of the query vector.
type fakeIndex struct {
	mu      sync.Mutex
	size    int
	rows    map[uint32][]float32
	failFor map[uint32]int // remaining failures per first word
	calls   map[uint32]int
	lastK   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		size:    1,
		rows:    make(map[uint32][]float32),
		failFor: make(map[uint32]int),
		calls:   make(map[uint32]int),
	}
}

func (f *fakeIndex) Len() int { return f.size }

func (f *fakeIndex) Search(queries []fuzzyhnsw.Point, cfg fuzzyhnsw.Config, _ *roaring.Bitmap) (*fuzzyhnsw.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := queries[0][0]
	f.calls[key]++
	f.lastK = cfg.K
	if f.failFor[key] > 0 {
		f.failFor[key]--
		return nil, errors.New("transport closed")
	}

	row, ok := f.rows[key]
	if !ok {
		row = []float32{fuzzyhnsw.MissingDistance}
	}
	ids := make([]int64, len(row))
	return &fuzzyhnsw.Result{NQ: 1, K: len(row), Distances: row, IDs: ids}, nil
}

func (f *fakeIndex) callsFor(hash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[firstWord(hash)]
}

func firstWord(hash string) uint32 {
	v, err := hashenc.Encode(hash, hashenc.LittleEndian)
	if err != nil {
		panic(err)
	}
	return v[0]
}

type collectSink struct {
	results []Result
	err     error
}

func (s *collectSink) Write(r Result) error {
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, r)
	return nil
}

func record(hash string) dataset.Record {
	return dataset.Record{Key: hash, Hash: hash, Size: 100}
}

func TestFirstHitCapsRecallAtOneTrial(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("2c03f70d")] = []float32{0}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	sink := &collectSink{}
	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d")}, sink)
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	r := sink.results[0]
	assert.Equal(t, 1, r.Hits)
	assert.Equal(t, 10, r.Trials)
	assert.InDelta(t, 0.1, r.Recall, 1e-12)
	assert.Equal(t, 1, idx.callsFor("2c03f70d"))
	assert.Equal(t, sink.results, sum.Results)
}

func TestAllTrialsCountsEveryHit(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("2c03f70d")] = []float32{0}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig(), WithMode(ModeAllTrials))
	require.NoError(t, err)

	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d")}, nil)
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	assert.Equal(t, 10, sum.Results[0].Hits)
	assert.InDelta(t, 1.0, sum.Results[0].Recall, 1e-12)
	assert.Equal(t, 10, idx.callsFor("2c03f70d"))
}

func TestNoMatchYieldsZeroRecall(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("0df7032c")] = []float32{3, 7}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("0df7032c")}, nil)
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	assert.Equal(t, 0.0, sum.Results[0].Recall)
	assert.Equal(t, 10, sum.Results[0].Attempted)
}

func TestHitAnywhereInRow(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("0df7032c")] = []float32{0.5, 1e-12, 9}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig(), WithK(3))
	require.NoError(t, err)

	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("0df7032c")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Results[0].Hits)
	assert.Equal(t, 3, idx.lastK)
}

func TestEpsilonThreshold(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("0df7032c")] = []float32{0.01}

	strict, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)
	sum, err := strict.Evaluate(context.Background(), []dataset.Record{record("0df7032c")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Results[0].Hits)

	loose, err := New(idx, fuzzyhnsw.DefaultConfig(), WithEpsilon(0.1))
	require.NoError(t, err)
	sum, err = loose.Evaluate(context.Background(), []dataset.Record{record("0df7032c")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Results[0].Hits)
}

func TestQueryFailureDoesNotAbort(t *testing.T) {
	idx := newFakeIndex()
	idx.rows[firstWord("2c03f70d")] = []float32{0}
	idx.failFor[firstWord("2c03f70d")] = 3
	idx.rows[firstWord("0df7032c")] = []float32{0}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	sink := &collectSink{}
	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d"), record("0df7032c")}, sink)
	require.NoError(t, err)

	require.Len(t, sink.results, 2)
	first := sink.results[0]
	assert.Equal(t, 3, first.Failures)
	assert.Equal(t, 1, first.Hits)
	assert.InDelta(t, 0.1, first.Recall, 1e-12)
	assert.Equal(t, 4, idx.callsFor("2c03f70d"))

	assert.InDelta(t, 0.1, sink.results[1].Recall, 1e-12)
	assert.Equal(t, 3, sum.Failures)
}

func TestRecordWithoutSuccessfulTrialIsSkipped(t *testing.T) {
	idx := newFakeIndex()
	idx.failFor[firstWord("2c03f70d")] = 100
	idx.rows[firstWord("0df7032c")] = []float32{0}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	sink := &collectSink{}
	records := []dataset.Record{record("2c03f70d"), record("12g4"), record("0df7032c")}
	sum, err := ev.Evaluate(context.Background(), records, sink)
	require.NoError(t, err)

	require.Len(t, sink.results, 1)
	assert.Equal(t, "0df7032c", sink.results[0].Key)
	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 20, sum.Failures)
}

func TestIndexUnavailable(t *testing.T) {
	_, err := New(nil, fuzzyhnsw.DefaultConfig())
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	idx := newFakeIndex()
	idx.size = 0
	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	_, err = ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d")}, nil)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Zero(t, idx.callsFor("2c03f70d"))
}

func TestWorkersKeepRecordOrder(t *testing.T) {
	idx := newFakeIndex()
	var records []dataset.Record
	for i := 0; i < 40; i++ {
		h := fmt.Sprintf("%08x", i+1)
		if i%2 == 0 {
			idx.rows[firstWord(h)] = []float32{0}
		}
		records = append(records, record(h))
	}

	ev, err := New(idx, fuzzyhnsw.DefaultConfig(), WithWorkers(4), WithMode(ModeAllTrials))
	require.NoError(t, err)

	sink := &collectSink{}
	sum, err := ev.Evaluate(context.Background(), records, sink)
	require.NoError(t, err)

	require.Len(t, sink.results, 40)
	for i, r := range sink.results {
		assert.Equal(t, records[i].Key, r.Key)
		if i%2 == 0 {
			assert.InDelta(t, 1.0, r.Recall, 1e-12)
		} else {
			assert.Equal(t, 0.0, r.Recall)
		}
	}
	assert.InDelta(t, 0.5, sum.MeanRecall(), 1e-12)
}

func TestSinkErrorStopsRun(t *testing.T) {
	idx := newFakeIndex()
	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	boom := errors.New("disk full")
	_, err = ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d")}, &collectSink{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestCanceledContext(t *testing.T) {
	idx := newFakeIndex()
	ev, err := New(idx, fuzzyhnsw.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ev.Evaluate(ctx, []dataset.Record{record("2c03f70d")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQPSLimiter(t *testing.T) {
	idx := newFakeIndex()
	ev, err := New(idx, fuzzyhnsw.DefaultConfig(), WithQPS(1000), WithTrials(3))
	require.NoError(t, err)

	sum, err := ev.Evaluate(context.Background(), []dataset.Record{record("2c03f70d")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Results[0].Attempted)
}

func TestOptionValidation(t *testing.T) {
	idx := newFakeIndex()
	for _, opt := range []Option{WithTrials(0), WithEpsilon(-1), WithK(-1), WithQPS(-2)} {
		_, err := New(idx, fuzzyhnsw.DefaultConfig(), opt)
		assert.Error(t, err)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("all-trials")
	require.NoError(t, err)
	assert.Equal(t, ModeAllTrials, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFirstHit, m)

	_, err = ParseMode("best-of")
	assert.Error(t, err)
}

func TestEvaluateAgainstGraphIndex(t *testing.T) {
	hashes := []string{
		"5E24CF523BE1D0F0E06702751AE49B726A7EFD728B61D8D7B7850B6E19302C0DA3A753",
		"B7B2AF5AE12849CCE27F583D6544EC694208A4E51A02E18F31ACF6862B691C39FCF37F",
		"8715F172F786F97AD05672744C9EA69A3A26FC509E2442877340BB0EAE337E15D33311",
		"BFB44AC6A19643BBEE8766FF358AC55DBC13D91C1B4DB4FBC789AA020A31B05ED12350",
		"7F258D0273918025FFAE92735B55B24156BCE8253123CD3F12BA9F79AB701B11E2D26F",
		"9F440B597A1CA800D5800AF3EC8751DE75BAEC38FE10EA6319EB78679DF203548195FE",
	}
	vectors := make([]fuzzyhnsw.Point, len(hashes))
	records := make([]dataset.Record, len(hashes))
	for i, h := range hashes {
		v, err := hashenc.Encode(h, hashenc.LittleEndian)
		require.NoError(t, err)
		vectors[i] = v
		records[i] = record(h)
	}

	cfg := fuzzyhnsw.DefaultConfig()
	idx := fuzzyhnsw.NewIndex()
	require.NoError(t, idx.Build(vectors, cfg))

	ev, err := New(idx, cfg)
	require.NoError(t, err)

	missing := record("0DA2BF5E51B5B42FC623603DD2009DB1B90E67819042F14F31F6BB9A26A62C713CE29E")
	sum, err := ev.Evaluate(context.Background(), append(records, missing), nil)
	require.NoError(t, err)

	require.Len(t, sum.Results, len(hashes)+1)
	for _, r := range sum.Results[:len(hashes)] {
		assert.InDelta(t, 0.1, r.Recall, 1e-12, r.Key)
	}
	assert.Equal(t, 0.0, sum.Results[len(hashes)].Recall)
}
