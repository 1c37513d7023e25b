package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lnreader/imgcache/internal/kvstore"
)

// MetadataKey 是设置存储中保留给图片缓存元数据的键。
const MetadataKey = "image_cache_metadata"

// MetadataStore 以整份映射的方式读写元数据，没有按键粒度的存储操作，调用方负责读-改-写。
type MetadataStore struct {
	store  kvstore.Store
	logger logrus.FieldLogger
}

// NewMetadataStore 基于设置存储构建元数据存储。
func NewMetadataStore(store kvstore.Store, logger logrus.FieldLogger) *MetadataStore {
	return &MetadataStore{store: store, logger: logger}
}

// Read 加载完整映射。记录缺失、存储读取失败或内容损坏时都返回空映射，只记录告警。
func (m *MetadataStore) Read(ctx context.Context) map[string]Entry {
	raw, err := m.store.Get(ctx, MetadataKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			m.logger.WithError(err).WithField("action", "metadata_read").Warn("metadata_read_failed")
		}
		return map[string]Entry{}
	}

	entries := map[string]Entry{}
	if len(raw) == 0 {
		return entries
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		m.logger.WithError(err).WithField("action", "metadata_read").Warn("metadata_corrupt")
		return map[string]Entry{}
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries
}

// Write 序列化并整体替换映射。
func (m *MetadataStore) Write(ctx context.Context, entries map[string]Entry) error {
	if entries == nil {
		entries = map[string]Entry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := m.store.Set(ctx, MetadataKey, raw); err != nil {
		return fmt.Errorf("persist metadata: %w", err)
	}
	return nil
}

// Clear 删除整份元数据。
func (m *MetadataStore) Clear(ctx context.Context) error {
	return m.store.Delete(ctx, MetadataKey)
}
