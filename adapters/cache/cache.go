package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 5 * time.Minute
	DefaultSize = 64
)

// FetchFunc 從資料來源取得 key 對應的值
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

type options struct {
	ttl    time.Duration
	size   int
	clock  func() time.Time
	logger *slog.Logger
}

type Option func(*options)

// WithTTL 設定資料的有效時間
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithSize 設定最多保存的 key 數量，超過時淘汰最久未使用的資料
func WithSize(size int) Option {
	return func(o *options) {
		o.size = size
	}
}

// WithClock 設定取得目前時間的函數，測試時可注入假的時鐘
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache 是帶有有效時間的讀取快取
// 快取本身不啟動任何計時器，過期判斷完全依賴注入的時鐘，背景刷新由呼叫端呼叫 Refresh 驅動
type Cache[K comparable, V any] struct {
	fetch  FetchFunc[K, V]
	store  *lru.Cache
	group  singleflight.Group
	mu     sync.Mutex
	keyStr func(K) string
	opts   options
	logger *slog.Logger

	// generations 在 Invalidate 時遞增，epoch 在 Purge 時遞增
	// 取得期間若有變動，取得的結果不會寫入快取
	generations map[string]uint64
	epoch       uint64
}

func New[K comparable, V any](fetch FetchFunc[K, V], opts ...Option) (*Cache[K, V], error) {
	if fetch == nil {
		return nil, errors.New("fetch function cannot be nil")
	}

	// 默認選項
	o := options{
		ttl:    DefaultTTL,
		size:   DefaultSize,
		clock:  time.Now,
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	store, err := lru.New(o.size)
	if err != nil {
		return nil, fmt.Errorf("fail to create lru store, err=%w", err)
	}

	return &Cache[K, V]{
		fetch:  fetch,
		store:  store,
		keyStr:      func(k K) string { return fmt.Sprint(k) },
		opts:        o,
		logger:      o.logger.With(slog.String("caller", "Cache")),
		generations: make(map[string]uint64),
	}, nil
}

// Get 回傳 key 對應的值；資料不存在或已過期時向資料來源取得
// 同一個 key 同時間只會有一個取得請求，取得失敗的結果不會被快取
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.peek(key); ok {
		return v, nil
	}
	return c.load(ctx, key)
}

func (c *Cache[K, V]) peek(key K) (V, bool) {
	var zero V
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	e := raw.(entry[V])
	if c.expired(e) {
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) expired(e entry[V]) bool {
	return c.opts.clock().Sub(e.fetchedAt) >= c.opts.ttl
}

func (c *Cache[K, V]) load(ctx context.Context, key K) (V, error) {
	name := c.keyStr(key)
	c.mu.Lock()
	generation, epoch := c.generations[name], c.epoch
	c.mu.Unlock()

	// 失效之後的請求不會加入失效之前開始的取得
	flight := fmt.Sprintf("%s#%d.%d", name, epoch, generation)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		value, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generations[name] != generation || c.epoch != epoch {
			c.logger.Debug("Discard entry invalidated during load", slog.Any("key", key))
			return value, nil
		}
		c.store.Add(key, entry[V]{value: value, fetchedAt: c.opts.clock()})
		c.logger.Debug("Cache entry loaded", slog.Any("key", key))
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate 移除指定 key 的資料，下一次 Get 會重新取得
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[c.keyStr(key)]++
	c.store.Remove(key)
}

// Purge 清空所有資料
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.generations)
	c.store.Purge()
}

// Keys 回傳目前保存的所有 key（包含已過期的）
func (c *Cache[K, V]) Keys() []K {
	raw := c.store.Keys()
	keys := make([]K, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(K))
	}
	return keys
}

// Refresh 重新取得所有已過期的資料，回傳所有失敗的錯誤
// 失敗時保留舊資料，讓呼叫端仍可在下一次 Get 時重試
func (c *Cache[K, V]) Refresh(ctx context.Context) error {
	var errs []error
	for _, key := range c.Keys() {
		raw, ok := c.store.Peek(key)
		if !ok || !c.expired(raw.(entry[V])) {
			continue
		}
		if _, err := c.load(ctx, key); err != nil {
			c.logger.Warn("Fail to refresh cache entry", slog.Any("key", key), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
