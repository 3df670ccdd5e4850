package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var supportedSourceSchemes = map[string]struct{}{
	"file":  {},
	"http":  {},
	"https": {},
	"ftp":   {},
	"nfs":   {},
}

const supportedSourceSchemeList = "file|http|https|ftp|nfs"

// Validate 针对语义级别做进一步校验，防止非法配置进入安装流程。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.CacheDir == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RetryDelay.DurationValue() < 0 {
		return newFieldError("Global.RetryDelay", "不能为负数")
	}
	if g.ChunkSize <= 0 {
		return newFieldError("Global.ChunkSize", "必须大于 0")
	}
	if g.HeaderParallelism <= 0 {
		return newFieldError("Global.HeaderParallelism", "必须大于 0")
	}
	if g.Proxy != "" {
		if err := validateProxy(g.Proxy); err != nil {
			return fmt.Errorf("Global.Proxy: %w", err)
		}
	}
	if g.StatusListen != "" {
		if _, _, err := net.SplitHostPort(g.StatusListen); err != nil {
			return newFieldError("Global.StatusListen", "必须是 host:port 形式")
		}
	}
	for field, mp := range map[string]string{
		"Global.MediaMountPoint": g.MediaMountPoint,
		"Global.NFSMountPoint":   g.NFSMountPoint,
		"Global.LoopMountPoint":  g.LoopMountPoint,
	} {
		if mp != "" && !strings.HasPrefix(mp, "/") {
			return newFieldError(field, "必须是绝对路径")
		}
	}

	if err := validateSourceURL(c.Source.ManifestURL); err != nil {
		return fmt.Errorf("Source.ManifestURL: %w", err)
	}
	if err := validateSourceURL(c.Source.IndexURL); err != nil {
		return fmt.Errorf("Source.IndexURL: %w", err)
	}
	if strings.TrimSpace(c.Source.Arch) == "" {
		return newFieldError("Source.Arch", "不能为空")
	}

	excluded := make(map[string]struct{}, len(c.Install.Exclude))
	for _, name := range c.Install.Exclude {
		excluded[name] = struct{}{}
	}
	for _, name := range c.Install.Include {
		if _, clash := excluded[name]; clash {
			return newFieldError("Install.Include", fmt.Sprintf("%s 同时出现在 Exclude 中", name))
		}
	}

	for i, edge := range c.Whiteouts {
		if strings.TrimSpace(edge.Requiring) == "" || strings.TrimSpace(edge.Provided) == "" {
			return newFieldError(whiteoutField(i), "Requiring/Provided 必须同时提供")
		}
	}

	return nil
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if _, ok := supportedSourceSchemes[parsed.Scheme]; !ok {
		return fmt.Errorf("仅支持 %s: %s", supportedSourceSchemeList, raw)
	}
	if parsed.Scheme != "file" && parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "socks5" {
		return fmt.Errorf("仅支持 http/https/socks5 代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}
