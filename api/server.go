package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"arsa/adapters/cache"
	"arsa/adapters/normalize"
	redisAdapter "arsa/adapters/redis"
	"arsa/adapters/s3"
	"arsa/adapters/store"
	"arsa/pricing"
)

// snapshot 是某一種刊登的快取內容，拍賣會一併帶有出價紀錄
type snapshot struct {
	Records []normalize.Record
	Bids    map[string][]pricing.Bid
}

// Dependencies 是 Server 使用的外部服務
type Dependencies struct {
	Store    Store
	Uploader Uploader
	Producer redisAdapter.IProducer[ListingEvent]
	Consumer redisAdapter.IConsumer[ListingEvent]
}

type serverOptions struct {
	clock  func() time.Time
	logger *slog.Logger
}

type Option func(*serverOptions)

// WithClock 設置取得目前時間的函數
func WithClock(clock func() time.Time) Option {
	return func(o *serverOptions) {
		o.clock = clock
	}
}

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

type Server struct {
	store     Store
	uploader  Uploader
	producer  redisAdapter.IProducer[ListingEvent]
	consumer  redisAdapter.IConsumer[ListingEvent]
	listings  *cache.Cache[pricing.Kind, snapshot]
	countdown *Countdown
	clock     func() time.Time
	logger    *slog.Logger
	config    ServerConfig

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	closers    []func()
}

// NewServer 依設定連線資料庫、redis 與 S3 後建立 Server
func NewServer(ctx context.Context, config ServerConfig, opts ...Option) (*Server, error) {
	const op = "NewServer"
	options := applyOptions(opts)

	// 初始化資料庫連線
	db, err := store.Open(config.DB)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to open database, err=%w", op, err)
	}
	gateway := store.NewGateway(db, options.logger)

	// 初始化S3客戶端
	s3Client, err := s3.NewClient(ctx, config.S3)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 client, err=%w", op, err)
	}
	s3Operator, err := s3.NewS3Operator(s3Client, config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	// 初始化Redis連線與事件串流
	redisClient, err := redisAdapter.NewClient(ctx, config.Redis.Config)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
	}
	producer, err := redisAdapter.NewProducer(
		redisClient,
		config.Redis.EventStream,
		redisAdapter.WithProducerLogger[ListingEvent](options.logger),
		redisAdapter.WithProducerMaxLen[ListingEvent](config.Redis.EventStreamMaxLen),
	)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer(
		redisClient,
		config.Redis.EventStream,
		redisAdapter.WithConsumerLogger[ListingEvent](options.logger),
	)
	if err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}

	server, err := New(config, Dependencies{
		Store:    gateway,
		Uploader: s3Operator,
		Producer: producer,
		Consumer: consumer,
	}, opts...)
	if err != nil {
		redisClient.Close()
		return nil, err
	}
	server.closers = append(server.closers,
		func() { redisClient.Close() },
		func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		},
	)
	return server, nil
}

// New 以既有的外部服務建立 Server
func New(config ServerConfig, deps Dependencies, opts ...Option) (*Server, error) {
	const op = "New"
	if deps.Store == nil || deps.Uploader == nil || deps.Producer == nil || deps.Consumer == nil {
		return nil, fmt.Errorf("[%s] %w", op, errors.New("all dependencies are required"))
	}
	options := applyOptions(opts)

	server := &Server{
		store:    deps.Store,
		uploader: deps.Uploader,
		producer: deps.Producer,
		consumer: deps.Consumer,
		clock:    options.clock,
		logger:   options.logger.With(slog.String("caller", "Server")),
		config:   config,
	}

	ttl := lo.Ternary(config.Cache.TTL > 0, config.Cache.TTL, cache.DefaultTTL)
	listings, err := cache.New(server.fetchSnapshot,
		cache.WithTTL(ttl),
		cache.WithClock(options.clock),
		cache.WithLogger(options.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create listing cache, err=%w", op, err)
	}
	server.listings = listings

	countdownOpts := []CountdownOption{
		WithCountdownClock(options.clock),
		WithCountdownLogger(options.logger),
		WithCountdownOnComplete(server.auctionCompleted),
	}
	if config.Countdown.Interval > 0 {
		countdownOpts = append(countdownOpts, WithCountdownInterval(config.Countdown.Interval))
	}
	countdown, err := NewCountdown(server.cachedAuctions, server.store.CompleteAuction, countdownOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create countdown, err=%w", op, err)
	}
	server.countdown = countdown

	return server, nil
}

func applyOptions(opts []Option) serverOptions {
	options := serverOptions{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Start 啟動事件串流以及背景 worker
func (s *Server) Start() {
	s.producer.Start()
	s.consumer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	// 收到其他實例的事件時讓快取失效
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger := s.logger.With(slog.String("worker", "ListingEvents"))
		defer logger.Info("Listing event worker stopped")
		events := s.consumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				logger.Debug("Receive listing event",
					slog.String("type", string(event.Type)),
					slog.String("listingID", event.ListingID))
				s.listings.Invalidate(event.Kind)
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.countdown.Run(ctx)
	}()

	refreshInterval := lo.Ternary(s.config.Cache.RefreshInterval > 0, s.config.Cache.RefreshInterval, time.Minute)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.listings.Refresh(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("Fail to refresh listing cache", slog.Any("error", err))
				}
			}
		}
	}()
	s.logger.Info("Server workers started")
}

// Close 停止背景 worker 並關閉外部連線
func (s *Server) Close() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.consumer.Close()
	s.producer.Close()
	for _, closer := range s.closers {
		closer()
	}
	s.logger.Info("Server closed")
}

func (s *Server) fetchSnapshot(ctx context.Context, kind pricing.Kind) (snapshot, error) {
	records, err := s.store.FetchListings(ctx, kind)
	if err != nil {
		return snapshot{}, err
	}
	bids := map[string][]pricing.Bid{}
	if kind == pricing.KindAuction && len(records) > 0 {
		ids := lo.Map(records, func(r normalize.Record, _ int) string { return r.Listing.ID })
		if bids, err = s.store.FetchBids(ctx, ids...); err != nil {
			return snapshot{}, err
		}
	}
	return snapshot{Records: records, Bids: bids}, nil
}

func (s *Server) cachedAuctions(ctx context.Context) ([]pricing.Listing, error) {
	snap, err := s.listings.Get(ctx, pricing.KindAuction)
	if err != nil {
		return nil, err
	}
	return lo.Map(snap.Records, func(r normalize.Record, _ int) pricing.Listing { return r.Listing }), nil
}

func (s *Server) auctionCompleted(listing pricing.Listing) {
	s.listings.Invalidate(pricing.KindAuction)
	s.publish(ListingEvent{
		Type:       EventAuctionCompleted,
		Kind:       pricing.KindAuction,
		ListingID:  listing.ID,
		OccurredAt: s.clock().UTC(),
	})
}

// publish 廣播事件，失敗只記錄不影響請求結果
func (s *Server) publish(event ListingEvent) {
	if err := s.producer.Publish(context.Background(), event); err != nil {
		s.logger.Warn("Fail to publish listing event",
			slog.String("type", string(event.Type)),
			slog.String("listingID", event.ListingID),
			slog.Any("error", err))
	}
}

// Router 建立 HTTP 路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())

	router.GET("/healthz", s.GetHealth)
	router.GET("/listings", s.Authenticate(false), s.GetListings)
	router.GET("/listings/:kind/:id", s.Authenticate(false), s.GetListing)
	router.POST("/listings/:kind/:id/photos", s.Authenticate(true), s.PostListingPhoto)
	router.POST("/auctions/:id/bids", s.Authenticate(true), s.PostBid)
	router.POST("/auctions/:id/complete", s.PostCompleteAuction)
	return router
}

func (s *Server) accessLog() gin.HandlerFunc {
	logger := s.logger.With(slog.String("caller", "AccessLog"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request served",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
