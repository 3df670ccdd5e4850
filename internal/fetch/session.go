package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/config"
	"github.com/any-hub/any-install/internal/logging"
)

// Session 承载 http/ftp 下载共享的客户端、代理与网络预检，替代进程级的全局 opener。
type Session struct {
	client       *http.Client
	proxyURL     *url.URL
	timeout      time.Duration
	networkCheck func(ctx context.Context) error
	logger       *logrus.Logger

	mu             sync.Mutex
	networkChecked bool
}

// SessionOption 在构造 Session 时调整默认行为。
type SessionOption func(*Session)

// WithNetworkCheck 注入网络连通性预检，首次远程下载前执行，成功后不再重复。
func WithNetworkCheck(check func(ctx context.Context) error) SessionOption {
	return func(s *Session) {
		s.networkCheck = check
	}
}

// WithHTTPClient 替换底层 http.Client，测试或自定义 TLS 时使用。
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSession 根据全局配置构造 Session。Proxy 为空时直连，不读取环境变量。
func NewSession(cfg config.GlobalConfig, logger *logrus.Logger, opts ...SessionOption) (*Session, error) {
	timeout := 30 * time.Second
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	var proxyURL *url.URL
	if cfg.Proxy != "" {
		parsed, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		proxyURL = parsed
	}

	transport := &http.Transport{
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	// 包体可能很大，不设置整体 Timeout，只限制建连与响应头等待时间。
	s := &Session{
		client:   &http.Client{Transport: transport},
		proxyURL: proxyURL,
		timeout:  timeout,
		logger:   logging.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.WithFields(logrus.Fields{
		"action":  "session_init",
		"proxy":   cfg.ProxyDisplay(),
		"timeout": timeout.String(),
	}).Debug("fetch session ready")
	return s, nil
}

// Client 返回共享 http.Client。
func (s *Session) Client() *http.Client {
	return s.client
}

// ProxyURL 返回当前生效的代理地址，未配置时为 nil。
func (s *Session) ProxyURL() *url.URL {
	return s.proxyURL
}

// Timeout 返回建连超时，ftp opener 复用同一数值。
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// EnsureNetwork 执行网络预检。失败不会被记住，下一次尝试会重新检查。
func (s *Session) EnsureNetwork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.networkChecked || s.networkCheck == nil {
		return nil
	}
	if err := s.networkCheck(ctx); err != nil {
		s.logger.WithFields(logrus.Fields{"action": "network_check"}).WithError(err).Warn("network_unavailable")
		return err
	}
	s.networkChecked = true
	return nil
}

// TCPReachable 返回一个拨测 addr 的网络预检函数，典型用法是指向清单所在主机。
func TCPReachable(addr string, timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("network precheck %s: %w", addr, err)
		}
		return conn.Close()
	}
}

// HostPort 从 rawURL 推导拨测地址，缺少端口时按 scheme 补默认端口。
func HostPort(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "", false
	}
	if parsed.Port() != "" {
		return parsed.Host, true
	}
	port := map[string]string{"http": "80", "https": "443", "ftp": "21", "nfs": "2049"}[parsed.Scheme]
	if port == "" {
		return "", false
	}
	return net.JoinHostPort(parsed.Hostname(), port), true
}
