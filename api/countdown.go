package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arsa/pricing"
)

// Countdown 定期檢查拍賣是否已結束，並呼叫遠端程序將其標記為完成
// 每個刊登在同一個行程內最多成功完成一次，失敗時於下一次檢查重試
type Countdown struct {
	source     func(ctx context.Context) ([]pricing.Listing, error)
	complete   func(ctx context.Context, listingID string) error
	onComplete func(listing pricing.Listing)
	clock      func() time.Time
	interval   time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	completed map[string]struct{}
}

type countdownOptions struct {
	clock      func() time.Time
	interval   time.Duration
	logger     *slog.Logger
	onComplete func(listing pricing.Listing)
}

type CountdownOption func(*countdownOptions)

// WithCountdownClock 設置取得目前時間的函數
func WithCountdownClock(clock func() time.Time) CountdownOption {
	return func(o *countdownOptions) {
		o.clock = clock
	}
}

// WithCountdownInterval 設置檢查間隔
func WithCountdownInterval(d time.Duration) CountdownOption {
	return func(o *countdownOptions) {
		o.interval = d
	}
}

// WithCountdownLogger 設置日誌記錄器
func WithCountdownLogger(logger *slog.Logger) CountdownOption {
	return func(o *countdownOptions) {
		o.logger = logger
	}
}

// WithCountdownOnComplete 設置完成拍賣後的回呼
func WithCountdownOnComplete(fn func(listing pricing.Listing)) CountdownOption {
	return func(o *countdownOptions) {
		o.onComplete = fn
	}
}

func NewCountdown(
	source func(ctx context.Context) ([]pricing.Listing, error),
	complete func(ctx context.Context, listingID string) error,
	opts ...CountdownOption,
) (*Countdown, error) {
	if source == nil || complete == nil {
		return nil, errors.New("source and complete functions cannot be nil")
	}
	options := countdownOptions{
		clock:      time.Now,
		interval:   10 * time.Second,
		logger:     slog.Default(),
		onComplete: func(pricing.Listing) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	return &Countdown{
		source:     source,
		complete:   complete,
		onComplete: options.onComplete,
		clock:      options.clock,
		interval:   options.interval,
		logger:     options.logger.With(slog.String("caller", "Countdown")),
		completed:  make(map[string]struct{}),
	}, nil
}

// Tick 執行一次檢查，回傳本次完成的拍賣 ID
func (c *Countdown) Tick(ctx context.Context) ([]string, error) {
	listings, err := c.source(ctx)
	if err != nil {
		return nil, err
	}

	c.prune(listings)

	now := c.clock()
	var done []string
	for _, listing := range listings {
		if !c.due(listing, now) {
			continue
		}
		if err := c.complete(ctx, listing.ID); err != nil {
			c.logger.Warn("Fail to complete auction, retry on next tick",
				slog.String("listingID", listing.ID),
				slog.Any("error", err))
			continue
		}
		c.mu.Lock()
		c.completed[listing.ID] = struct{}{}
		c.mu.Unlock()
		c.logger.Info("Auction completed", slog.String("listingID", listing.ID))
		c.onComplete(listing)
		done = append(done, listing.ID)
	}
	return done, nil
}

// prune 移除已不在資料來源中的完成紀錄
func (c *Countdown) prune(listings []pricing.Listing) {
	present := make(map[string]struct{}, len(listings))
	for _, listing := range listings {
		present[listing.ID] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.completed {
		if _, ok := present[id]; !ok {
			delete(c.completed, id)
		}
	}
}

// due 判斷拍賣是否已結束但資料庫尚未標記為完成或取消
func (c *Countdown) due(listing pricing.Listing, now time.Time) bool {
	if listing.Kind != pricing.KindAuction {
		return false
	}
	if listing.Status == pricing.StatusCompleted || listing.Status == pricing.StatusCancelled {
		return false
	}
	if err := listing.Validate(); err != nil {
		return false
	}
	if pricing.ResolveStatus(listing, now) != pricing.StatusEnded {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.completed[listing.ID]
	return !ok
}

// Run 依照間隔持續檢查，直到 ctx 被取消
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("Fail to load auctions", slog.Any("error", err))
			}
		}
	}
}
