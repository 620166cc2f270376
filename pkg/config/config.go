package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	Execution ExecutionConfig
	Room      RoomConfig
}

type ServerConfig struct {
	Address string
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
	TimeZone string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// ExecutionConfig 控制程式執行的接入與頻寬
type ExecutionConfig struct {
	MaxConcurrent  int           // 每個房間同時執行的上限
	HistoryLimit   int           // 房間保留的最近執行結果數
	NatsURL        string        // 沙箱執行服務的 NATS 位址
	Subject        string        // 執行請求的 subject
	RequestTimeout time.Duration // 單次執行請求的等待上限
}

// RoomConfig 控制房間狀態的快取與持久化節奏
type RoomConfig struct {
	CacheTTL         time.Duration // Redis 快取的存活時間
	SnapshotInterval time.Duration // 定期落盤的間隔
	IdleEviction     time.Duration // 閒置房間自記憶體逐出的時間
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./pkg/config")

	// 未設定時的預設值
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("db.timezone", "UTC")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("execution.maxconcurrent", 2)
	viper.SetDefault("execution.historylimit", 20)
	viper.SetDefault("execution.natsurl", "nats://localhost:4222")
	viper.SetDefault("execution.subject", "coderoom.execute")
	viper.SetDefault("execution.requesttimeout", 30*time.Second)
	viper.SetDefault("room.cachettl", 10*time.Minute)
	viper.SetDefault("room.snapshotinterval", 30*time.Second)
	viper.SetDefault("room.idleeviction", 30*time.Minute)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
