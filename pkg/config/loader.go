package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 服务完整配置
type Config struct {
	DB          DBConfig          `yaml:"db"`
	MQ          MQConfig          `yaml:"mq"`
	Redis       RedisConfig       `yaml:"redis"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Lock        LockConfig        `yaml:"lock"`
	Shard       ShardConfig       `yaml:"shard"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// Load 加载配置，优先级：系统环境变量 > secrets.env > <env>.yaml > base.yaml
func Load(env string, configDir string) (*Config, error) {
	merged, err := LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	// 转换为 Config 结构
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	OverrideDBFromEnv(&cfg.DB)
	OverrideMQFromEnv(&cfg.MQ)
	OverrideRedisFromEnv(&cfg.Redis)
	OverrideServerFromEnv(&cfg.Server)
	OverrideLogFromEnv(&cfg.Log)
	OverrideShardFromEnv(&cfg.Shard, &cfg.Lock)

	return cfg, nil
}

// Defaults 返回未配置时使用的默认值
func Defaults() *Config {
	return &Config{
		DB:     DBConfig{Host: "localhost", Port: 5432, SSLMode: "disable", MaxConns: 10, SlowQueryMS: 100},
		Server: ServerConfig{Port: ":8090"},
		Log:    LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Lock:   LockConfig{Backend: "postgres"},
		Shard:  ShardConfig{Roles: []string{"authenticated", "service_role"}},
		Maintenance: MaintenanceConfig{
			GroupKey:    "title_project",
			Strategy:    "most_recently_updated",
			Disposition: "soft",
			DryRun:      true,
		},
	}
}

// LoadConfig 加载配置，支持多环境
// env: local, production, 或其他环境名称
// configDir: 配置文件目录，默认为 "config"
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	// 1. 加载 base.yaml
	baseConfig, err := loadYAMLFile(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	// 2. 加载环境特定配置（如果存在）
	envConfig := make(map[string]interface{})
	if env != "" && env != "base" {
		envFile := filepath.Join(configDir, fmt.Sprintf("%s.yaml", env))
		if _, err := os.Stat(envFile); err == nil {
			envConfig, err = loadYAMLFile(envFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
			}
		}
	}

	// 3. 合并配置（环境配置覆盖基础配置）
	merged := mergeMaps(baseConfig, envConfig)

	// 4. 加载 secrets.env（如果存在），替换 ${VAR} 占位符
	secretsFile := filepath.Join(configDir, "secrets.env")
	if _, err := os.Stat(secretsFile); err == nil {
		secrets, err := godotenv.Read(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets.env: %w", err)
		}
		merged = substituteEnvVars(merged, secrets)
	}

	return merged, nil
}

func loadYAMLFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// mergeMaps 合并两个 map，dst 会被 src 覆盖
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		result[k] = v
	}
	for k, v := range src {
		dstMap, dstOK := result[k].(map[string]interface{})
		srcMap, srcOK := v.(map[string]interface{})
		if dstOK && srcOK {
			result[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		result[k] = v
	}
	return result
}

// substituteEnvVars 替换配置中的占位符 ${VAR_NAME}，包括列表元素
func substituteEnvVars(config map[string]interface{}, env map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(config))
	for k, v := range config {
		result[k] = substituteValue(v, env)
	}
	return result
}

func substituteValue(v interface{}, env map[string]string) interface{} {
	switch val := v.(type) {
	case string:
		return substituteString(val, env)
	case map[string]interface{}:
		return substituteEnvVars(val, env)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, env)
		}
		return out
	default:
		return v
	}
}

func substituteString(s string, env map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	result := s
	for key, value := range env {
		result = strings.ReplaceAll(result, fmt.Sprintf("${%s}", key), value)
	}
	return result
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
