package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var ErrProducerClosed = errors.New("producer is closed")

type producerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
	encodeFunc func(T) (map[string]any, error)
}

type ProducerOption[T any] func(*producerOptions[T])

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger[T any](logger *slog.Logger) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝的初始大小
func WithProducerBufferSize[T any](size int) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 限制串流保留的訊息數量（近似值），0 表示不限制
func WithProducerMaxLen[T any](n int64) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.maxLen = n
	}
}

// WithProducerEncodeFunc 設置訊息序列化函數
func WithProducerEncodeFunc[T any](fn func(T) (map[string]any, error)) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.encodeFunc = fn
	}
}

// Producer 將資料非同步寫入 redis 串流
// Publish 只負責序列化並放入緩衝，寫入失敗時記錄錯誤後繼續處理下一筆
type Producer[T any] struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    producerOptions[T]
}

func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption[T]) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := producerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 64,
		encodeFunc: EncodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("Starting stream producer")

	p.wg.Add(1)
	go func(out <-chan map[string]any) {
		defer p.wg.Done()
		defer p.logger.Info("Producer goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-out:
				if !ok {
					return
				}
				p.write(ctx, message)
			}
		}
	}(p.upstream.Out)
}

func (p *Producer[T]) write(ctx context.Context, message map[string]any) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: message,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("Fail to publish message", slog.Any("error", err))
		}
		return
	}
	p.logger.Debug("Message published", slog.String("messageId", id))
}

// Publish 將資料放入緩衝，由背景 goroutine 寫入串流
func (p *Producer[T]) Publish(ctx context.Context, data T) error {
	const op = "Producer.Publish"
	message, err := p.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode message, err=%w", op, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.upstream.In <- message:
		return nil
	}
}

// Close 停止背景 goroutine，尚未寫入的訊息會被捨棄
func (p *Producer[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.logger.Info("Closing stream producer")
	p.closed = true
	if pending := p.upstream.Len(); pending > 0 {
		p.logger.Warn("Dropping unpublished messages", slog.Int("count", pending))
	}
	p.cancelFunc()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Stream producer closed")
}
