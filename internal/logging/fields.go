package logging

import (
	"net/url"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 url/scheme/attempt 字段，供缓存下载循环与各协议 opener 复用。
// 日志中的 URL 会去掉 userinfo，避免泄露 ftp/代理凭证。
func FetchFields(rawURL, scheme string, attempt int) logrus.Fields {
	fields := logrus.Fields{
		"url":    RedactURL(rawURL),
		"scheme": scheme,
	}
	if attempt > 0 {
		fields["attempt"] = attempt
	}
	return fields
}

// PackageFields 描述单个安装包，供解析与安装阶段日志复用。
func PackageFields(name, basename, tier string) logrus.Fields {
	return logrus.Fields{
		"package":  name,
		"basename": basename,
		"tier":     tier,
	}
}

// RedactURL 去掉 URL 中的密码部分，无法解析时原样返回。
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.User == nil {
		return rawURL
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	}
	return parsed.String()
}
