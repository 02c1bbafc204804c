package fuzzyhnsw

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSeed seeds level generation when Config.Seed is zero.
const DefaultSeed = 100

// Config carries the build and search parameters of an index. Field names on
// the wire follow the JSON documents passed to HNSW libraries:
//
//	{"dim": 9, "k": 1, "metric_type": "HAMMING", "M": 16, "efConstruction": 128, "ef": 100}
//
// dim is measured in uint32 words, so a 70 hex char TLSH digest has dim 9.
type Config struct {
	Dim            int        `json:"dim" toml:"dim"`
	K              int        `json:"k" toml:"k"`
	MetricType     MetricType `json:"metric_type" toml:"metric_type"`
	M              int        `json:"M" toml:"M"`
	EfConstruction int        `json:"efConstruction" toml:"efConstruction"`
	Ef             int        `json:"ef" toml:"ef"`
	Seed           int64      `json:"seed,omitempty" toml:"seed,omitempty"`
}

// DefaultConfig matches the parameters the TLSH recall runs were made with.
func DefaultConfig() Config {
	return Config{
		Dim:            9,
		K:              1,
		MetricType:     Hamming,
		M:              16,
		EfConstruction: 128,
		Ef:             100,
	}
}

// ParseConfig overlays a JSON document on DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.MetricType = cfg.MetricType.Canonical()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// JSON renders the config in the same shape ParseConfig accepts.
func (c Config) JSON() ([]byte, error) {
	return json.Marshal(c)
}

func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidConfig, c.Dim)
	case c.K <= 0:
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, c.K)
	case c.M < 2:
		return fmt.Errorf("%w: M must be at least 2, got %d", ErrInvalidConfig, c.M)
	case c.EfConstruction <= 0:
		return fmt.Errorf("%w: efConstruction must be positive, got %d", ErrInvalidConfig, c.EfConstruction)
	case c.Ef < 0:
		return fmt.Errorf("%w: ef must not be negative, got %d", ErrInvalidConfig, c.Ef)
	}
	if _, err := DistFuncFor(c.MetricType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// searchEf never lets the candidate list be shorter than k.
func (c Config) searchEf() int {
	return max(c.Ef, c.K)
}

func (c Config) seed() int64 {
	if c.Seed == 0 {
		return DefaultSeed
	}
	return c.Seed
}

// Canonical upper-cases the metric name.
func (m MetricType) Canonical() MetricType {
	return MetricType(strings.ToUpper(strings.TrimSpace(string(m))))
}
