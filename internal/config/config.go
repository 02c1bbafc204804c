// Package config loads the TOML run configuration shared by the CLI commands.
//
//	[index]
//	dim = 9
//	k = 1
//	metric_type = "HAMMING"
//	M = 16
//	efConstruction = 128
//	ef = 100
//
//	[data]
//	hash_column = "tlsh"
//	size_column = "size"
//	byte_order = "little"
//
//	[recall]
//	trials = 10
//	epsilon = 1e-9
//	mode = "first-hit"
//
//	[storage]
//	compression = "gzip"
//	endpoint = ""          # set to use MinIO / S3 instead of local files
//
//	[log]
//	level = "info"
//	format = "text"
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	minioblob "github.com/Bing-dwendwen/fuzzyhnsw/internal/blobstore/minio"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/codec"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/dataset"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/logger"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/recall"
)

type Config struct {
	Index   fuzzyhnsw.Config `toml:"index"`
	Data    Data             `toml:"data"`
	Recall  Recall           `toml:"recall"`
	Storage Storage          `toml:"storage"`
	Log     Log              `toml:"log"`
}

type Data struct {
	dataset.Columns
	ByteOrder string `toml:"byte_order"`
	Dedupe    bool   `toml:"dedupe"`
}

type Recall struct {
	Trials  int     `toml:"trials"`
	Epsilon float64 `toml:"epsilon"`
	Mode    string  `toml:"mode"`
	Workers int     `toml:"workers"`
	QPS     float64 `toml:"qps"`
}

type Storage struct {
	minioblob.Config
	Compression string `toml:"compression"`
	// Root resolves relative index names on local disk.
	Root string `toml:"root"`
}

// Remote reports whether indexes live in an S3-compatible bucket.
func (s Storage) Remote() bool {
	return s.Endpoint != ""
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() Config {
	return Config{
		Index: fuzzyhnsw.DefaultConfig(),
		Data: Data{
			Columns:   dataset.DefaultColumns(),
			ByteOrder: hashenc.LittleEndian.String(),
		},
		Recall: Recall{
			Trials:  recall.DefaultTrials,
			Epsilon: recall.DefaultEpsilon,
			Mode:    recall.ModeFirstHit.String(),
			Workers: 1,
		},
		Storage: Storage{
			Compression: codec.CompressionGzip.String(),
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load overlays the TOML file at path on Default. A missing file is not an
// error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML into cfg, keeping values the document does not set.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return err
	}
	cfg.Index.MetricType = cfg.Index.MetricType.Canonical()
	return nil
}

func (c Config) Validate() error {
	if err := c.Index.Validate(); err != nil {
		return err
	}
	if c.Data.Hash == "" {
		return errors.New("data.hash_column must be set")
	}
	if _, err := c.ByteOrder(); err != nil {
		return err
	}
	if _, err := c.RecallMode(); err != nil {
		return err
	}
	if _, err := c.Compression(); err != nil {
		return err
	}
	if c.Storage.Remote() && c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set with storage.endpoint")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c Config) ByteOrder() (hashenc.ByteOrder, error) {
	return hashenc.ParseByteOrder(c.Data.ByteOrder)
}

func (c Config) RecallMode() (recall.Mode, error) {
	return recall.ParseMode(c.Recall.Mode)
}

func (c Config) Compression() (codec.Compression, error) {
	return codec.ParseCompression(c.Storage.Compression)
}

// RecallOptions translates the [recall] and [data] sections.
func (c Config) RecallOptions() ([]recall.Option, error) {
	order, err := c.ByteOrder()
	if err != nil {
		return nil, err
	}
	mode, err := c.RecallMode()
	if err != nil {
		return nil, err
	}
	return []recall.Option{
		recall.WithTrials(c.Recall.Trials),
		recall.WithEpsilon(c.Recall.Epsilon),
		recall.WithByteOrder(order),
		recall.WithMode(mode),
		recall.WithWorkers(c.Recall.Workers),
		recall.WithQPS(c.Recall.QPS),
	}, nil
}
