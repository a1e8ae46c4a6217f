// Package config 读取服务配置（yaml 文件 + 环境变量里的密钥）
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type MongoConfig struct {
	Host       string `yaml:"host"`
	DBName     string `yaml:"dbname"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"authSource"`
}

type FetchConfig struct {
	Concurrency int `yaml:"concurrency"` // 同时抓取的来源数
	TimeoutSec  int `yaml:"timeoutSec"`  // 单个 HTTP 请求超时
	MaxRetries  int `yaml:"maxRetries"`  // 含首次尝试
}

// ProviderConfig 一个补全 provider 和它按优先级排列的模型。
// 密钥不写进 yaml，通过 apiKeyEnv 指向环境变量。
type ProviderConfig struct {
	Name      string   `yaml:"name"` // openai | groq | deepseek
	APIKeyEnv string   `yaml:"apiKeyEnv"`
	Models    []string `yaml:"models"`
}

// Key 从环境变量取密钥，没设置返回空串
func (p ProviderConfig) Key() string {
	return os.Getenv(p.APIKeyEnv)
}

type EnrichConfig struct {
	Language    string           `yaml:"language"`
	MaxFieldLen int              `yaml:"maxFieldLen"`
	Concurrency int              `yaml:"concurrency"`
	BatchSize   int              `yaml:"batchSize"`
	Providers   []ProviderConfig `yaml:"providers"`
}

type Config struct {
	Address string       `yaml:"address"` // HTTP 监听地址
	Now     string       `yaml:"now"`     // 可选的参考时间覆盖（RFC 3339），周计算可复现用
	Mongo   MongoConfig  `yaml:"mongo"`
	Fetch   FetchConfig  `yaml:"fetch"`
	Enrich  EnrichConfig `yaml:"enrich"`
}

// NowOverride 解析 now 覆盖；没配返回 ok=false
func (c *Config) NowOverride() (time.Time, bool, error) {
	if c.Now == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, c.Now)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse now override: %w", err)
	}
	return t, true, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 15
	}
	if c.Fetch.MaxRetries <= 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Enrich.Language == "" {
		c.Enrich.Language = "English"
	}
	if c.Enrich.MaxFieldLen <= 0 {
		c.Enrich.MaxFieldLen = 4000
	}
	if c.Enrich.Concurrency <= 0 {
		c.Enrich.Concurrency = 3
	}
	if c.Enrich.BatchSize <= 0 {
		c.Enrich.BatchSize = 50
	}
}
