package fuzzyhnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotBuilt is returned by Search on an index that holds no records.
	ErrIndexNotBuilt = errors.New("index not built")
	// ErrEmptyDataset is returned when Build is called without vectors.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrInvalidConfig wraps every config validation failure.
	ErrInvalidConfig = errors.New("invalid index config")
	// ErrUnsupportedMetric is returned for a metric_type no distance kernel exists for.
	ErrUnsupportedMetric = errors.New("unsupported metric type")
	// ErrCorruptIndex is returned when a serialized index cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt index data")
)

// ErrDimensionMismatch indicates a vector whose word count differs from the index dim.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
