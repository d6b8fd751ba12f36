package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	// 慢查询阈值（毫秒）
	SlowQueryMS int `yaml:"slow_query_ms"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
	// 为空时只输出到 stderr
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LockConfig 项目表锁配置
type LockConfig struct {
	// postgres / redis / local
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// ShardConfig 项目专属表配置
type ShardConfig struct {
	// 授予项目表读写权限的应用角色
	Roles []string `yaml:"roles"`
	// 重试 ProvisioningConflict / StoreUnavailable 的最长时间
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
}

// MaintenanceConfig 去重维护任务默认值
type MaintenanceConfig struct {
	GroupKey    string `yaml:"group_key"`
	Strategy    string `yaml:"strategy"`
	Disposition string `yaml:"disposition"`
	DryRun      bool   `yaml:"dry_run"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
	if mode := os.Getenv("DB_SSLMODE"); mode != "" {
		cfg.SSLMode = mode
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideLogFromEnv 从环境变量覆盖日志配置
func OverrideLogFromEnv(cfg *LogConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.File = file
	}
}

// OverrideShardFromEnv 从环境变量覆盖分片配置（SHARD_ROLES 逗号分隔）
func OverrideShardFromEnv(cfg *ShardConfig, lock *LockConfig) {
	if roles := os.Getenv("SHARD_ROLES"); roles != "" {
		cfg.Roles = nil
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Roles = append(cfg.Roles, r)
			}
		}
	}
	if backend := os.Getenv("LOCK_BACKEND"); backend != "" {
		lock.Backend = backend
	}
}
