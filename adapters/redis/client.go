package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient 建立 redis 連線並確認服務可用
func NewClient(ctx context.Context, config Config) (*redis.Client, error) {
	const op = "redis.NewClient"
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[%s] Fail to ping redis at %s, err=%w", op, config.Addr, err)
	}
	return client, nil
}
