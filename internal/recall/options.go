package recall

import (
	"fmt"
	"strings"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/logger"
)

type Mode int

const (
	// ModeFirstHit stops a record's trials at the first hit.
	ModeFirstHit Mode = iota
	// ModeAllTrials runs every trial and counts every hit.
	ModeAllTrials
)

func (m Mode) String() string {
	if m == ModeAllTrials {
		return "all-trials"
	}
	return "first-hit"
}

// ParseMode accepts "first-hit" and "all-trials".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first-hit", "first":
		return ModeFirstHit, nil
	case "all-trials", "all":
		return ModeAllTrials, nil
	default:
		return 0, fmt.Errorf("unknown recall mode %q", s)
	}
}

// Option configures an Evaluator.
type Option func(o *Options)

type Options struct {
	Trials  int
	Epsilon float64
	// K overrides the index config's k when positive.
	K     int
	Order hashenc.ByteOrder
	Mode  Mode
	// Workers above 1 evaluates records concurrently.
	Workers int
	// QPS above 0 caps the query rate across all workers.
	QPS    float64
	Logger *logger.Logger
}

func DefaultOptions() Options {
	return Options{
		Trials:  DefaultTrials,
		Epsilon: DefaultEpsilon,
		Order:   hashenc.LittleEndian,
		Mode:    ModeFirstHit,
		Workers: 1,
		Logger:  logger.Noop(),
	}
}

func (o *Options) validate() error {
	if o.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", o.Trials)
	}
	if o.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative, got %g", o.Epsilon)
	}
	if o.K < 0 {
		return fmt.Errorf("k must not be negative, got %d", o.K)
	}
	if o.QPS < 0 {
		return fmt.Errorf("qps must not be negative, got %g", o.QPS)
	}
	if o.Logger == nil {
		o.Logger = logger.Noop()
	}
	return nil
}

func WithTrials(n int) Option {
	return func(o *Options) { o.Trials = n }
}

func WithEpsilon(eps float64) Option {
	return func(o *Options) { o.Epsilon = eps }
}

func WithK(k int) Option {
	return func(o *Options) { o.K = k }
}

func WithByteOrder(order hashenc.ByteOrder) Option {
	return func(o *Options) { o.Order = order }
}

func WithMode(m Mode) Option {
	return func(o *Options) { o.Mode = m }
}

func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

func WithQPS(qps float64) Option {
	return func(o *Options) { o.QPS = qps }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
