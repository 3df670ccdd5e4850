package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述日志、缓存目录、挂载点与网络参数，整个安装过程共享同一份。
type GlobalConfig struct {
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	CacheDir          string   `mapstructure:"CacheDir"`
	MediaDevice       string   `mapstructure:"MediaDevice"`
	MediaFSType       string   `mapstructure:"MediaFSType"`
	MediaMountPoint   string   `mapstructure:"MediaMountPoint"`
	NFSMountPoint     string   `mapstructure:"NFSMountPoint"`
	NFSOptions        string   `mapstructure:"NFSOptions"`
	LoopMountPoint    string   `mapstructure:"LoopMountPoint"`
	Proxy             string   `mapstructure:"Proxy"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	RetryDelay        Duration `mapstructure:"RetryDelay"`
	ChunkSize         int      `mapstructure:"ChunkSize"`
	HeaderParallelism int      `mapstructure:"HeaderParallelism"`
	StatusListen      string   `mapstructure:"StatusListen"`
}

// SourceConfig 指向安装源的清单与元数据索引。
type SourceConfig struct {
	ManifestURL string `mapstructure:"ManifestURL"`
	IndexURL    string `mapstructure:"IndexURL"`
	Arch        string `mapstructure:"Arch"`
}

// InstallConfig 汇总调用方在前端收集到的包选择与依赖解析开关。
type InstallConfig struct {
	Exclude             []string `mapstructure:"Exclude"`
	Include             []string `mapstructure:"Include"`
	AutoResolve         bool     `mapstructure:"AutoResolve"`
	IgnoreMissing       bool     `mapstructure:"IgnoreMissing"`
	SizeCheckExceptions []string `mapstructure:"SizeCheckExceptions"`
}

// WhiteoutConfig 声明一条需要忽略的依赖边，用于打破引导阶段的循环依赖。
type WhiteoutConfig struct {
	Requiring string `mapstructure:"Requiring"`
	Provided  string `mapstructure:"Provided"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Source    SourceConfig     `mapstructure:"Source"`
	Install   InstallConfig    `mapstructure:"Install"`
	Whiteouts []WhiteoutConfig `mapstructure:"Whiteout"`
}

// ProxyDisplay 返回脱敏后的代理地址，供日志字段使用。
func (g GlobalConfig) ProxyDisplay() string {
	if g.Proxy == "" {
		return "direct"
	}
	if idx := strings.LastIndex(g.Proxy, "@"); idx >= 0 {
		scheme := ""
		if s := strings.Index(g.Proxy, "://"); s >= 0 && s < idx {
			scheme = g.Proxy[:s+3]
		}
		return scheme + "***@" + g.Proxy[idx+1:]
	}
	return g.Proxy
}
