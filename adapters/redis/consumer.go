package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	retryDelay   time.Duration
	startID      string
	decodeFunc   func(map[string]any) (T, error)
}

type ConsumerOption[T any] func(*consumerOptions[T])

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger[T any](logger *slog.Logger) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游 channel 的緩衝大小
func WithConsumerBufferSize[T any](size int) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取超時時間
func WithConsumerBlockTimeout[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithConsumerRetryDelay 設置讀取失敗後重試前的等待時間
func WithConsumerRetryDelay[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.retryDelay = d
	}
}

// WithConsumerStartID 設置開始讀取的訊息 ID，預設 "$" 只讀取啟動後的新訊息，"0" 從頭讀取
func WithConsumerStartID[T any](id string) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.startID = id
	}
}

// WithConsumerDecodeFunc 設置自定義解析函數
func WithConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// Consumer 以 XREAD 廣播模式讀取串流，每個實例都會收到全部訊息
type Consumer[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    consumerOptions[T]
}

func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption[T]) (*Consumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := consumerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   64,
		blockTimeout: time.Second,
		retryDelay:   time.Second,
		startID:      "$",
		decodeFunc:   DecodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:     client,
		stream:     stream,
		lastID:     options.startID,
		downStream: make(chan T, options.bufferSize),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

func (s *Consumer[T]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	// 重新啟動時前一個 channel 已被關閉
	if s.cancelFunc != nil {
		s.downStream = make(chan T, s.options.bufferSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Starting stream consumer")

	s.wg.Add(1)
	go func(downStream chan<- T) {
		defer s.wg.Done()
		defer s.logger.Info("Consumer goroutine stopped")
		defer close(downStream)

		for ctx.Err() == nil {
			messages, err := s.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				s.logger.Error("Fail to read stream", slog.Any("error", err))
				s.wait(ctx)
				continue
			}

			for _, message := range messages {
				data, err := s.options.decodeFunc(message.Values)
				if err != nil {
					s.logger.Error("Fail to decode message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case downStream <- data:
					s.logger.Debug("Message sent to downstream", slog.String("messageId", message.ID))
				}
			}
		}
	}(s.downStream)
}

func (s *Consumer[T]) fetch(ctx context.Context) ([]redis.XMessage, error) {
	if s.lastID == "$" {
		if err := s.resolveLastID(ctx); err != nil {
			return nil, err
		}
	}
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   16,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}

	messages := streams[0].Messages
	s.lastID = messages[len(messages)-1].ID
	return messages, nil
}

// resolveLastID 將 "$" 換成串流目前最後一筆訊息的 ID，避免兩次 XREAD 之間寫入的訊息遺失
func (s *Consumer[T]) resolveLastID(ctx context.Context) error {
	last, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		return err
	}
	if len(last) == 0 {
		s.lastID = "0-0"
		return nil
	}
	s.lastID = last[0].ID
	return nil
}

func (s *Consumer[T]) wait(ctx context.Context) {
	timer := time.NewTimer(s.options.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Subscribe 訂閱數據流
func (s *Consumer[T]) Subscribe() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downStream
}

// Close 關閉消費者
func (s *Consumer[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Closing stream consumer")
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Stream consumer closed")
}
