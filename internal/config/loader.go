package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	normalizeInstall(&cfg.Install)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDir = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("MediaFSType", "iso9660")
	v.SetDefault("MediaMountPoint", "/mnt/source")
	v.SetDefault("NFSMountPoint", "/mnt/install/nfs")
	v.SetDefault("NFSOptions", "ro,nolock")
	v.SetDefault("LoopMountPoint", "/mnt/install/loop")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RetryDelay", "2s")
	v.SetDefault("ChunkSize", 100*1024)
	v.SetDefault("HeaderParallelism", 4)
	v.SetDefault("Install.AutoResolve", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.RetryDelay.DurationValue() == 0 {
		g.RetryDelay = Duration(2 * time.Second)
	}
	if g.ChunkSize == 0 {
		g.ChunkSize = 100 * 1024
	}
	if g.HeaderParallelism == 0 {
		g.HeaderParallelism = 4
	}
}

// normalizeInstall 去掉包名两侧空白并丢弃空项，排除/包含集合按逻辑名匹配。
func normalizeInstall(in *InstallConfig) {
	in.Exclude = trimNames(in.Exclude)
	in.Include = trimNames(in.Include)
	in.SizeCheckExceptions = trimNames(in.SizeCheckExceptions)
}

func trimNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
