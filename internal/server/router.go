package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/install"
	"github.com/any-hub/any-install/internal/version"
)

// ProgressSource 提供进度快照，*install.Tracker 满足该接口。
type ProgressSource interface {
	Snapshot() install.Snapshot
}

// CacheSource 提供缓存条目，*cache.Cache 满足该接口。
type CacheSource interface {
	Root() string
	Entries() []cache.EntryInfo
}

// AppOptions 汇总诊断服务依赖的只读数据源。
type AppOptions struct {
	Logger   *logrus.Logger
	State    *State
	Progress ProgressSource
	Cache    CacheSource
}

const contextKeyRequestID = "_anyinstall_request_id"

// NewApp 构建带 recover 与请求 ID 中间件的 Fiber 应用，并注册 /-/status 与 /metrics。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.State == nil {
		return nil, errors.New("state is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	app.Get("/-/status", func(c fiber.Ctx) error {
		phase, lastErr := opts.State.Phase()
		payload := fiber.Map{
			"version": version.Full(),
			"phase":   phase,
		}
		if lastErr != "" {
			payload["error"] = lastErr
		}
		if opts.Progress != nil {
			payload["progress"] = opts.Progress.Snapshot()
		}
		return c.JSON(payload)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
		prometheus.DefaultGatherer,
		promhttp.HandlerOpts{DisableCompression: true},
	)))

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并记录访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()
		logger.WithFields(logrus.Fields{
			"action":     "diagnostics_request",
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"request_id": reqID,
		}).Debug("diagnostics_request")
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
