// Package report writes recall results as text lines, JSON lines or rows in
// a SQLite database.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/recall"
)

var (
	_ recall.Sink = (*TextSink)(nil)
	_ recall.Sink = (*JSONSink)(nil)
	_ recall.Sink = (*SQLiteSink)(nil)
	_ recall.Sink = MultiSink(nil)
)

// TextSink writes "recall: <key> <size> <recall>" lines with three decimals.
type TextSink struct {
	w io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Write(r recall.Result) error {
	_, err := fmt.Fprintf(s.w, "recall: %s %d %.3f\n", r.Key, r.Size, r.Recall)
	return err
}

// JSONSink writes one JSON object per result.
type JSONSink struct {
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

type jsonResult struct {
	Key      string  `json:"key"`
	Hash     string  `json:"hash"`
	Size     int64   `json:"size"`
	Hits     int     `json:"hits"`
	Trials   int     `json:"trials"`
	Failures int     `json:"failures"`
	Recall   float64 `json:"recall"`
}

func (s *JSONSink) Write(r recall.Result) error {
	return s.enc.Encode(jsonResult{
		Key:      r.Key,
		Hash:     r.Hash,
		Size:     r.Size,
		Hits:     r.Hits,
		Trials:   r.Trials,
		Failures: r.Failures,
		Recall:   r.Recall,
	})
}

// MultiSink fans each result out to every sink and joins their errors.
type MultiSink []recall.Sink

func (m MultiSink) Write(r recall.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSink picks a line sink by format name: "text" or "json".
func NewSink(w io.Writer, format string) (recall.Sink, error) {
	switch format {
	case "", "text":
		return NewTextSink(w), nil
	case "json", "jsonl":
		return NewJSONSink(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
