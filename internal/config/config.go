package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config 聚合客户端与开发后端的配置项。
type Config struct {
	Backend   BackendConfig
	Session   SessionConfig
	Realtime  RealtimeConfig
	Log       LogConfig
	Metrics   MetricsConfig
	DevServer DevServerConfig
}

// Load 先读取 ASR_CONFIG_FILE 指定的配置文件（可选），再用环境变量覆盖。
func Load() (*Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("ASR_CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig(file.Backend)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(file.Session)
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig(file.Realtime)
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig(file.Log)
	if err != nil {
		return nil, err
	}

	devServer, err := loadDevServerConfig(file.DevServer)
	if err != nil {
		return nil, err
	}

	return &Config{
		Backend:   backend,
		Session:   session,
		Realtime:  realtime,
		Log:       logCfg,
		Metrics:   MetricsConfig{Addr: getEnvOrDefault("ASR_METRICS_ADDR", file.Metrics.Addr)},
		DevServer: devServer,
	}, nil
}

// BackendConfig 描述 REST 后端地址与请求策略。
type BackendConfig struct {
	BaseURL      string
	RealtimePath string
	Timeout      time.Duration
	EnableHTTP2  bool
	LoginForm    bool
}

func loadBackendConfig(file fileBackend) (BackendConfig, error) {
	baseURL := strings.TrimRight(getEnvOrDefault("ASR_BASE_URL", orDefault(file.BaseURL, "http://localhost:8000")), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return BackendConfig{}, fmt.Errorf("invalid ASR_BASE_URL value: %q", baseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return BackendConfig{}, fmt.Errorf("ASR_BASE_URL must use http or https, got %q", parsed.Scheme)
	}

	timeout := 30 // 默认30秒
	if file.Timeout > 0 {
		timeout = file.Timeout
	}
	override, err := parseOptionalIntEnv("ASR_TIMEOUT")
	if err != nil {
		return BackendConfig{}, err
	}
	if override != nil {
		timeout = *override
	}
	if timeout < 0 {
		return BackendConfig{}, fmt.Errorf("invalid ASR_TIMEOUT value: %d", timeout)
	}

	http2, err := parseBoolEnv("ASR_ENABLE_HTTP2", file.EnableHTTP2)
	if err != nil {
		return BackendConfig{}, err
	}

	loginForm, err := parseBoolEnv("ASR_LOGIN_FORM", file.LoginForm)
	if err != nil {
		return BackendConfig{}, err
	}

	realtimePath := getEnvOrDefault("ASR_REALTIME_PATH", orDefault(file.RealtimePath, "/ws/asr/transcribe/realtime"))
	if !strings.HasPrefix(realtimePath, "/") {
		realtimePath = "/" + realtimePath
	}

	return BackendConfig{
		BaseURL:      baseURL,
		RealtimePath: realtimePath,
		Timeout:      time.Duration(timeout) * time.Second,
		EnableHTTP2:  http2,
		LoginForm:    loginForm,
	}, nil
}

// SessionConfig 描述会话令牌的本地持久化位置。
type SessionConfig struct {
	File  string
	Watch bool
}

func loadSessionConfig(file fileSession) (SessionConfig, error) {
	path := getEnvOrDefault("ASR_SESSION_FILE", file.File)
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		path = filepath.Join(dir, "asr-client", "session.json")
	}

	watch, err := parseBoolEnv("ASR_SESSION_WATCH", file.Watch)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{File: path, Watch: watch}, nil
}

// RealtimeConfig 实时转写通道参数。
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
}

func loadRealtimeConfig(file fileRealtime) (RealtimeConfig, error) {
	heartbeat, err := parseDurationEnv("ASR_HEARTBEAT_INTERVAL", file.HeartbeatInterval, 10*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	handshake, err := parseDurationEnv("ASR_HANDSHAKE_TIMEOUT", file.HandshakeTimeout, 10*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	write, err := parseDurationEnv("ASR_WRITE_TIMEOUT", file.WriteTimeout, 10*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	queue := 64
	if file.QueueSize > 0 {
		queue = file.QueueSize
	}
	if override, err := parseOptionalIntEnv("ASR_REALTIME_QUEUE"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			queue = 1
		} else {
			queue = *override
		}
	}

	return RealtimeConfig{
		HeartbeatInterval: heartbeat,
		HandshakeTimeout:  handshake,
		WriteTimeout:      write,
		QueueSize:         queue,
	}, nil
}

// LogConfig 日志输出；File 为空时写到标准错误。
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func loadLogConfig(file fileLog) (LogConfig, error) {
	maxSize := 10
	if file.MaxSizeMB > 0 {
		maxSize = file.MaxSizeMB
	}
	if override, err := parseOptionalIntEnv("ASR_LOG_MAX_SIZE_MB"); err != nil {
		return LogConfig{}, err
	} else if override != nil {
		maxSize = *override
	}

	maxBackups := 3
	if file.MaxBackups > 0 {
		maxBackups = file.MaxBackups
	}
	if override, err := parseOptionalIntEnv("ASR_LOG_MAX_BACKUPS"); err != nil {
		return LogConfig{}, err
	} else if override != nil {
		maxBackups = *override
	}

	return LogConfig{
		File:       getEnvOrDefault("ASR_LOG_FILE", file.File),
		MaxSizeMB:  maxSize,
		MaxBackups: maxBackups,
	}, nil
}

// MetricsConfig Prometheus 指标暴露地址，为空表示不暴露。
type MetricsConfig struct {
	Addr string
}

// DevServerConfig 本地开发后端配置。
type DevServerConfig struct {
	Addr               string
	DisableTaskListing bool
}

func loadDevServerConfig(file fileDevServer) (DevServerConfig, error) {
	port := getEnvOrDefault("PORT", orDefault(file.Addr, "8000"))

	addr := port
	if !strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		if strings.Contains(port, " ") {
			return DevServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	disable, err := parseBoolEnv("ASR_DEV_DISABLE_TASK_LIST", file.DisableTaskListing)
	if err != nil {
		return DevServerConfig{}, err
	}

	return DevServerConfig{Addr: addr, DisableTaskListing: disable}, nil
}

func orDefault(value, defaultValue string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 按 环境变量 > 配置文件 > 默认值 的顺序解析时长，"0" 表示关闭。
func parseDurationEnv(key, fileValue string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnvOrDefault(key, strings.TrimSpace(fileValue))
	if raw == "" {
		return defaultValue, nil
	}

	if raw == "0" {
		return 0, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
