package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileConfig 配置文件结构，时长字段使用 time.ParseDuration 格式（如 "10s"）。
type fileConfig struct {
	Backend   fileBackend   `toml:"backend" yaml:"backend"`
	Session   fileSession   `toml:"session" yaml:"session"`
	Realtime  fileRealtime  `toml:"realtime" yaml:"realtime"`
	Log       fileLog       `toml:"log" yaml:"log"`
	Metrics   fileMetrics   `toml:"metrics" yaml:"metrics"`
	DevServer fileDevServer `toml:"devserver" yaml:"devserver"`
}

type fileBackend struct {
	BaseURL      string `toml:"base_url" yaml:"base_url"`
	RealtimePath string `toml:"realtime_path" yaml:"realtime_path"`
	Timeout      int    `toml:"timeout" yaml:"timeout"` // seconds
	EnableHTTP2  bool   `toml:"enable_http2" yaml:"enable_http2"`
	LoginForm    bool   `toml:"login_form" yaml:"login_form"`
}

type fileSession struct {
	File  string `toml:"file" yaml:"file"`
	Watch bool   `toml:"watch" yaml:"watch"`
}

type fileRealtime struct {
	HeartbeatInterval string `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	HandshakeTimeout  string `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      string `toml:"write_timeout" yaml:"write_timeout"`
	QueueSize         int    `toml:"queue_size" yaml:"queue_size"`
}

type fileLog struct {
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
}

type fileMetrics struct {
	Addr string `toml:"addr" yaml:"addr"`
}

type fileDevServer struct {
	Addr               string `toml:"addr" yaml:"addr"`
	DisableTaskListing bool   `toml:"disable_task_listing" yaml:"disable_task_listing"`
}

// loadFile 按扩展名解析 TOML 或 YAML 配置文件，path 为空时返回零值。
func loadFile(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config file extension: %q", filepath.Ext(path))
	}

	return cfg, nil
}
