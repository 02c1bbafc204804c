// Package recall measures how reliably an index hands a record back to a
// query for that same record.
//
// Every record is queried Trials times with its own encoded hash. A trial is
// a hit when any returned distance lies within Epsilon of zero. In
// ModeFirstHit the trial loop of a record ends at its first hit, so the
// recall of a record is either 0 or 1/Trials; ModeAllTrials runs every trial
// and reports hits/Trials.
package recall

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/dataset"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/logger"
)

var (
	// ErrIndexUnavailable is returned before any query when the index is
	// missing or holds no records.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrQueryFailure wraps the error of a single failed trial.
	ErrQueryFailure = errors.New("query failure")
)

const (
	DefaultTrials  = 10
	DefaultEpsilon = 1e-9
)

// Searcher is the part of fuzzyhnsw.Index the evaluator needs.
type Searcher interface {
	Search(queries []fuzzyhnsw.Point, cfg fuzzyhnsw.Config, filter *roaring.Bitmap) (*fuzzyhnsw.Result, error)
	Len() int
}

// Sink receives one Result per reported record, in record order.
type Sink interface {
	Write(r Result) error
}

// Result is the outcome of one record.
type Result struct {
	Key       string
	Hash      string
	Size      int64
	Hits      int
	Trials    int
	Failures  int
	Attempted int // trials that returned a result, hit or not
	Recall    float64
}

// Summary aggregates a run. Records with no successful trial are counted in
// Skipped and are not written to the sink.
type Summary struct {
	Results  []Result
	Records  int
	Skipped  int
	Failures int
}

// MeanRecall averages Recall over reported records.
func (s Summary) MeanRecall() float64 {
	if len(s.Results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s.Results {
		sum += r.Recall
	}
	return sum / float64(len(s.Results))
}

type Evaluator struct {
	index   Searcher
	cfg     fuzzyhnsw.Config
	opts    Options
	logger  *logger.Logger
	limiter *rate.Limiter
}

// New returns an evaluator for index. cfg is passed to every Search call;
// Options.K, when set, overrides cfg.K.
func New(index Searcher, cfg fuzzyhnsw.Config, optFns ...Option) (*Evaluator, error) {
	if index == nil {
		return nil, ErrIndexUnavailable
	}
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.K > 0 {
		cfg.K = opts.K
	}

	e := &Evaluator{
		index:  index,
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger,
	}
	if opts.QPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.QPS), 1)
	}
	return e, nil
}

// Evaluate runs every record and writes reported results to sink in record
// order. Per-trial failures are logged and never abort the run; a sink or
// context error does.
func (e *Evaluator) Evaluate(ctx context.Context, records []dataset.Record, sink Sink) (Summary, error) {
	if e.index.Len() == 0 {
		return Summary{}, ErrIndexUnavailable
	}

	sum := Summary{Records: len(records)}
	report := func(r Result) error {
		sum.Failures += r.Failures
		if r.Attempted == 0 {
			sum.Skipped++
			e.logger.ErrorContext(ctx, "record has no successful trial",
				"key", r.Key,
				"hash", r.Hash,
				"failures", r.Failures,
			)
			return nil
		}
		sum.Results = append(sum.Results, r)
		if sink == nil {
			return nil
		}
		return sink.Write(r)
	}

	if e.opts.Workers <= 1 {
		for _, rec := range records {
			r, err := e.evaluateRecord(ctx, rec)
			if err != nil {
				return sum, err
			}
			if err := report(r); err != nil {
				return sum, fmt.Errorf("write result for %s: %w", rec.Key, err)
			}
		}
		return sum, nil
	}

	results := make([]Result, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			r, err := e.evaluateRecord(gctx, rec)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	for i, r := range results {
		if err := report(r); err != nil {
			return sum, fmt.Errorf("write result for %s: %w", records[i].Key, err)
		}
	}
	return sum, nil
}

// evaluateRecord only returns an error when ctx is done.
func (e *Evaluator) evaluateRecord(ctx context.Context, rec dataset.Record) (Result, error) {
	r := Result{
		Key:    rec.Key,
		Hash:   rec.Hash,
		Size:   rec.Size,
		Trials: e.opts.Trials,
	}

	for trial := 0; trial < e.opts.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return r, err
			}
		}

		hit, err := e.trial(rec)
		if err != nil {
			r.Failures++
			e.logger.LogSearchFailure(ctx, rec.Key, rec.Hash, trial, err)
			continue
		}
		r.Attempted++
		if hit {
			r.Hits++
			if e.opts.Mode == ModeFirstHit {
				break
			}
		}
	}

	r.Recall = float64(r.Hits) / float64(e.opts.Trials)
	e.logger.LogRecall(ctx, r.Key, r.Hits, r.Trials, r.Failures, r.Recall)
	return r, nil
}

func (e *Evaluator) trial(rec dataset.Record) (bool, error) {
	v, err := hashenc.Encode(rec.Hash, e.opts.Order)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrQueryFailure, err)
	}

	res, err := e.index.Search([]fuzzyhnsw.Point{v}, e.cfg, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrQueryFailure, err)
	}
	if res == nil || res.NQ < 1 || len(res.Distances) < res.K {
		return false, fmt.Errorf("%w: empty result", ErrQueryFailure)
	}

	dist, _ := res.Row(0)
	for _, d := range dist {
		if math.Abs(float64(d)) < e.opts.Epsilon {
			return true, nil
		}
	}
	return false, nil
}
