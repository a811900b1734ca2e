package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"arsa/adapters/redis"
	"arsa/adapters/s3"
	"arsa/adapters/store"
	"arsa/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("log-level", "info", "debug, info, warn or error")
	pflag.String("log-format", "text", "text or json")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 0, "")
	pflag.String("redis-event-stream", "arsa-listing-events", "")
	pflag.Int64("redis-event-stream-max-len", 10000, "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-region", "auto", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")

	// auth config
	pflag.String("auth-jwt-secret", "", "secret used by the backend to sign access tokens")
	pflag.String("auth-jwt-audience", "authenticated", "")

	// cache & workers
	pflag.Duration("cache-ttl", 5*time.Minute, "")
	pflag.Duration("cache-refresh-interval", time.Minute, "")
	pflag.Duration("countdown-interval", 10*time.Second, "")
	pflag.Int64("photo-rate-limit-per-hour", 20, "0 disables the limit")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARSA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		ServerConfig: api.ServerConfig{
			DB: store.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Config: redis.Config{
					Addr:     viper.GetString("redis-addr"),
					Password: viper.GetString("redis-password"),
					DB:       viper.GetInt("redis-db"),
				},
				EventStream:       viper.GetString("redis-event-stream"),
				EventStreamMaxLen: viper.GetInt64("redis-event-stream-max-len"),
			},
			S3: s3.Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Region:          viper.GetString("s3-region"),
				Bucket:          viper.GetString("s3-bucket"),
				PublicBaseURL:   viper.GetString("s3-public-base-url"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
			},
			Auth: api.AuthConfig{
				Secret:   viper.GetString("auth-jwt-secret"),
				Audience: viper.GetString("auth-jwt-audience"),
			},
			Cache: api.CacheConfig{
				TTL:             viper.GetDuration("cache-ttl"),
				RefreshInterval: viper.GetDuration("cache-refresh-interval"),
			},
			Countdown: api.CountdownConfig{
				Interval: viper.GetDuration("countdown-interval"),
			},
			Photo: api.PhotoConfig{
				RateLimitPerHour: viper.GetInt64("photo-rate-limit-per-hour"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	LogLevel     string
	LogFormat    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.DB.Host != "" &&
		args.ServerConfig.DB.Database != "" &&
		args.ServerConfig.Redis.Addr != "" &&
		args.ServerConfig.Redis.EventStream != "" &&
		args.ServerConfig.Auth.Secret != ""
}
