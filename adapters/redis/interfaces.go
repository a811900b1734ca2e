package redis

import "context"

// IProducer 將資料寫入串流
type IProducer[T any] interface {
	Start()
	Publish(ctx context.Context, data T) error
	Close()
}

// IConsumer 從串流讀取資料，Subscribe 回傳的 channel 會在 Close 之後關閉
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}
