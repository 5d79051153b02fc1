package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gallery_server/server/common/infra/object"
	commonlog "gallery_server/server/common/log"
	"gallery_server/server/gallery/domain"
)

const (
	metadataIndexKey = "_metadata/index.json"

	indexCacheKey = "gallery:index"
	indexCacheTTL = 30 * time.Second
)

// MetadataIndex is the catalog of uploaded files: a single JSON array kept
// in the blob store, newest entry first. Append and Remove are plain
// read-modify-write cycles over two network calls; concurrent writers can
// lose updates (last writer wins). That gap is deliberate — the index
// exists so a demo-scale deployment does not need a database.
//
// An optional redis client serves as a read cache for List. Writes always
// go to the blob store and drop the cached copy, so the cache never widens
// the existing write race.
type MetadataIndex struct {
	store object.Store
	cache *redis.Client
}

func NewMetadataIndex(store object.Store, cache *redis.Client) *MetadataIndex {
	return &MetadataIndex{store: store, cache: cache}
}

// List returns all records, newest first. A missing index document means
// no uploads yet and yields an empty list, not an error.
func (m *MetadataIndex) List(ctx context.Context) ([]domain.FileRecord, error) {
	if cached, ok := m.cachedList(ctx); ok {
		return cached, nil
	}
	list, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	m.storeCachedList(ctx, list)
	return list, nil
}

// Append prepends entry and writes the whole document back.
func (m *MetadataIndex) Append(ctx context.Context, entry domain.FileRecord) error {
	list, err := m.load(ctx)
	if err != nil {
		return err
	}
	list = append([]domain.FileRecord{entry}, list...)
	if err := m.save(ctx, list); err != nil {
		return err
	}
	m.invalidateCache(ctx)
	return nil
}

// Remove filters out the entry with the given id and writes the document
// back. Removing an id that is not present is a no-op.
func (m *MetadataIndex) Remove(ctx context.Context, id string) error {
	list, err := m.load(ctx)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, entry := range list {
		if entry.ID != id {
			filtered = append(filtered, entry)
		}
	}
	if err := m.save(ctx, filtered); err != nil {
		return err
	}
	m.invalidateCache(ctx)
	return nil
}

// Find looks up a record by id in the current index.
func (m *MetadataIndex) Find(ctx context.Context, id string) (domain.FileRecord, bool, error) {
	list, err := m.load(ctx)
	if err != nil {
		return domain.FileRecord{}, false, err
	}
	for _, entry := range list {
		if entry.ID == id {
			return entry, true, nil
		}
	}
	return domain.FileRecord{}, false, nil
}

// load always reads from the blob store, never the cache: every mutation
// must start from the source of truth.
func (m *MetadataIndex) load(ctx context.Context) ([]domain.FileRecord, error) {
	rc, err := m.store.Get(ctx, metadataIndexKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return []domain.FileRecord{}, nil
		}
		return nil, fmt.Errorf("fetch metadata index: %w", err)
	}
	defer rc.Close()

	var list []domain.FileRecord
	if err := json.NewDecoder(rc).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode metadata index: %w", err)
	}
	if list == nil {
		list = []domain.FileRecord{}
	}
	return list, nil
}

func (m *MetadataIndex) save(ctx context.Context, list []domain.FileRecord) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, metadataIndexKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("write metadata index: %w", err)
	}
	return nil
}

func (m *MetadataIndex) cachedList(ctx context.Context) ([]domain.FileRecord, bool) {
	if m.cache == nil {
		return nil, false
	}
	raw, err := m.cache.Get(ctx, indexCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			commonlog.Warnf("read index cache: %v", err)
		}
		return nil, false
	}
	var list []domain.FileRecord
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	if list == nil {
		list = []domain.FileRecord{}
	}
	return list, true
}

func (m *MetadataIndex) storeCachedList(ctx context.Context, list []domain.FileRecord) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, indexCacheKey, raw, indexCacheTTL).Err(); err != nil {
		commonlog.Warnf("write index cache: %v", err)
	}
}

func (m *MetadataIndex) invalidateCache(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Del(ctx, indexCacheKey).Err(); err != nil {
		commonlog.Warnf("invalidate index cache: %v", err)
	}
}
