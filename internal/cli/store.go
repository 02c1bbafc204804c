package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/blobstore"
	minioblob "github.com/Bing-dwendwen/fuzzyhnsw/internal/blobstore/minio"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/config"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/dataset"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
)

func openStore(cfg config.Config) (blobstore.Store, error) {
	if cfg.Storage.Remote() {
		return minioblob.Open(cfg.Storage.Config)
	}
	return blobstore.NewLocal(cfg.Storage.Root), nil
}

func saveIndex(ctx context.Context, cfg config.Config, name string, h *fuzzyhnsw.Hnsw) error {
	c, err := cfg.Compression()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = h.Save(&buf, c)
	if err == nil {
		err = store.Put(ctx, name, buf.Bytes())
	}
	appLogger.LogSave(ctx, name, buf.Len(), err)
	return err
}

func loadIndex(ctx context.Context, cfg config.Config, name string) (*fuzzyhnsw.Hnsw, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, name)
	if err != nil {
		appLogger.LogLoad(ctx, name, 0, 0, err)
		return nil, fmt.Errorf("load index %s: %w", name, err)
	}
	h, ts, err := fuzzyhnsw.Load(bytes.NewReader(data), cfg.Index)
	if err != nil {
		appLogger.LogLoad(ctx, name, 0, 0, err)
		return nil, fmt.Errorf("load index %s: %w", name, err)
	}
	appLogger.LogLoad(ctx, name, h.Len(), ts, nil)
	return h, nil
}

// encodeRecords encodes every record, skipping and logging those that do not
// encode to cfg.Index.Dim words. The returned records line up with vectors.
func encodeRecords(ctx context.Context, cfg config.Config, records []dataset.Record) ([]fuzzyhnsw.Point, []dataset.Record, error) {
	order, err := cfg.ByteOrder()
	if err != nil {
		return nil, nil, err
	}
	enc := hashenc.Encoder{Order: order, Dim: cfg.Index.Dim}

	vectors := make([]fuzzyhnsw.Point, 0, len(records))
	kept := make([]dataset.Record, 0, len(records))
	for _, rec := range records {
		v, err := enc.Encode(rec.Hash)
		if err != nil {
			appLogger.LogSkippedRecord(ctx, rec.Row, rec.Hash, err)
			continue
		}
		vectors = append(vectors, v)
		kept = append(kept, rec)
	}
	return vectors, kept, nil
}

func readRecords(path string, cfg config.Config, dedupe bool) ([]dataset.Record, error) {
	records, err := dataset.ReadFile(path, cfg.Data.Columns)
	if err != nil {
		return nil, err
	}
	if dedupe {
		records = dataset.Dedupe(records)
	}
	return records, nil
}
