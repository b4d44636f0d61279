//pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ==================== 会话限制 ====================

const (
	MinPersistenceTimeout = 0
	MaxPersistenceTimeout = 12 * time.Hour
	MinBufferLines        = 10
	MaxBufferLines        = 10000

	DefaultPersistenceTimeout = 5 * time.Minute
	DefaultMaxBufferLines     = 1000

	// HardBufferBytes 回放缓冲区字节上限，不可配置
	HardBufferBytes = 10 * 1024 * 1024
)

// SessionConfig 单会话配置
type SessionConfig struct {
	PersistenceTimeout time.Duration
	MaxBufferLines     int
}

// Clamp 将配置收敛到发布的限制范围内
func (c SessionConfig) Clamp() SessionConfig {
	if c.PersistenceTimeout < MinPersistenceTimeout {
		c.PersistenceTimeout = MinPersistenceTimeout
	}
	if c.PersistenceTimeout > MaxPersistenceTimeout {
		c.PersistenceTimeout = MaxPersistenceTimeout
	}
	if c.MaxBufferLines < MinBufferLines {
		c.MaxBufferLines = MinBufferLines
	}
	if c.MaxBufferLines > MaxBufferLines {
		c.MaxBufferLines = MaxBufferLines
	}
	return c
}

// Merge 用可选的毫秒值与行数覆盖当前配置，nil 表示保持不变
func (c SessionConfig) Merge(persistMS *int64, lines *int64) SessionConfig {
	if persistMS != nil {
		c.PersistenceTimeout = time.Duration(*persistMS) * time.Millisecond
	}
	if lines != nil {
		c.MaxBufferLines = int(*lines)
	}
	return c.Clamp()
}

// ==================== 服务端配置 ====================

type ServerConfig struct {
	Listen   string `yaml:"listen"`
	WSPath   string `yaml:"ws_path"`
	Upstream string `yaml:"upstream"`

	// 会话默认值
	PersistenceTimeout time.Duration `yaml:"persistence_timeout"`
	MaxBufferLinesCfg  int           `yaml:"max_buffer_lines"`

	// 上游连接
	UseProxyProtocol bool   `yaml:"use_proxy_protocol"`
	TLSFingerprint   string `yaml:"tls_fingerprint"` // chrome, firefox, safari, ios, random

	// 日志
	LogLevel string `yaml:"log_level"`
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:             ":8080",
		WSPath:             "/ws",
		PersistenceTimeout: DefaultPersistenceTimeout,
		MaxBufferLinesCfg:  DefaultMaxBufferLines,
		LogLevel:           "info",
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	if path == "" {
		return DefaultServerConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultServerConfig(), err
	}

	cfg := DefaultServerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 验证服务端配置
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}

	if c.Upstream == "" {
		return errors.New("upstream address is required")
	}

	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.WSPath[0] != '/' {
		c.WSPath = "/" + c.WSPath
	}

	if c.PersistenceTimeout < 0 {
		c.PersistenceTimeout = DefaultPersistenceTimeout
	}
	if c.PersistenceTimeout > MaxPersistenceTimeout {
		c.PersistenceTimeout = MaxPersistenceTimeout
	}

	if c.MaxBufferLinesCfg <= 0 {
		c.MaxBufferLinesCfg = DefaultMaxBufferLines
	}
	if c.MaxBufferLinesCfg < MinBufferLines {
		c.MaxBufferLinesCfg = MinBufferLines
	}
	if c.MaxBufferLinesCfg > MaxBufferLines {
		c.MaxBufferLinesCfg = MaxBufferLines
	}

	switch strings.ToLower(c.TLSFingerprint) {
	case "", "chrome", "firefox", "safari", "ios", "random":
		c.TLSFingerprint = strings.ToLower(c.TLSFingerprint)
	default:
		return fmt.Errorf("unknown tls_fingerprint: %s", c.TLSFingerprint)
	}

	return nil
}

// SessionDefaults 返回新会话的默认配置
func (c *ServerConfig) SessionDefaults() SessionConfig {
	return SessionConfig{
		PersistenceTimeout: c.PersistenceTimeout,
		MaxBufferLines:     c.MaxBufferLinesCfg,
	}.Clamp()
}
