package api

import (
	"time"

	redisAdapter "arsa/adapters/redis"
	"arsa/adapters/s3"
	"arsa/adapters/store"
)

type ServerConfig struct {
	DB        store.DBConfig
	Redis     RedisConfig
	S3        s3.Config
	Auth      AuthConfig
	Cache     CacheConfig
	Countdown CountdownConfig
	Photo     PhotoConfig
}

type RedisConfig struct {
	redisAdapter.Config

	// EventStream 是各實例之間同步刊登事件的串流
	EventStream string
	// EventStreamMaxLen 限制串流保留的事件數量
	EventStreamMaxLen int64
}

type AuthConfig struct {
	// Secret 是 BaaS 簽發 HS256 存取權杖使用的金鑰
	Secret   string
	Audience string
}

type CacheConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

type CountdownConfig struct {
	Interval time.Duration
}

type PhotoConfig struct {
	// RateLimitPerHour 為 0 時不限制
	RateLimitPerHour int64
}
