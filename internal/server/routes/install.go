package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/fetch"
	"github.com/any-hub/any-install/internal/logging"
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/server"
)

// RegisterInstallRoutes 暴露 /-/cache、/-/packages 与 /-/schemes 诊断接口。
func RegisterInstallRoutes(app *fiber.App, opts server.AppOptions) {
	if app == nil {
		return
	}
	logger := logging.OrDiscard(opts.Logger)

	app.Get("/-/cache", func(c fiber.Ctx) error {
		if opts.Cache == nil {
			return diagnosticError(c, logger, fiber.StatusServiceUnavailable, "cache_unavailable")
		}
		return c.JSON(fiber.Map{
			"root":    opts.Cache.Root(),
			"entries": opts.Cache.Entries(),
		})
	})

	app.Get("/-/packages", func(c fiber.Ctx) error {
		if opts.State == nil {
			return diagnosticError(c, logger, fiber.StatusServiceUnavailable, "state_unavailable")
		}
		sel := opts.State.Selection()
		if sel == nil {
			return diagnosticError(c, logger, fiber.StatusNotFound, "selection_pending")
		}
		return c.JSON(fiber.Map{
			"install":       encodePackages(sel.Install),
			"available":     encodePackages(sel.Available),
			"resolved":      encodePackages(sel.Resolved),
			"omitted":       encodePackages(sel.Omitted),
			"resolved_size": sel.ResolvedSize,
			"total_mb":      sel.TotalMB(),
		})
	})

	app.Get("/-/schemes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"schemes": encodeSchemes(fetch.List())})
	})
}

// diagnosticError 返回带请求 ID 的错误体，并以同一 ID 记录日志，便于对照访问日志。
func diagnosticError(c fiber.Ctx, logger *logrus.Logger, status int, code string) error {
	reqID := server.RequestID(c)
	logger.WithFields(logrus.Fields{
		"action":     "diagnostics_request",
		"path":       c.Path(),
		"status":     status,
		"request_id": reqID,
	}).Info(code)
	return c.Status(status).JSON(fiber.Map{"error": code, "request_id": reqID})
}

type packagePayload struct {
	Name      string `json:"name"`
	Basename  string `json:"basename"`
	Tier      string `json:"tier"`
	SizeBytes int64  `json:"size_bytes"`
}

type schemePayload struct {
	Key             string `json:"key"`
	Description     string `json:"description"`
	MaxAttempts     int    `json:"max_attempts"`
	RequiresNetwork bool   `json:"requires_network"`
	Resumable       bool   `json:"resumable"`
}

func encodePackages(pkgs []*packages.Package) []packagePayload {
	result := make([]packagePayload, 0, len(pkgs))
	for _, p := range pkgs {
		result = append(result, packagePayload{
			Name:      p.Name,
			Basename:  p.Basename,
			Tier:      string(p.Tier),
			SizeBytes: p.Size,
		})
	}
	return result
}

func encodeSchemes(schemes []fetch.SchemeMetadata) []schemePayload {
	sort.Slice(schemes, func(i, j int) bool {
		return schemes[i].Key < schemes[j].Key
	})
	result := make([]schemePayload, 0, len(schemes))
	for _, meta := range schemes {
		result = append(result, schemePayload{
			Key:             meta.Key,
			Description:     meta.Description,
			MaxAttempts:     meta.MaxAttempts,
			RequiresNetwork: meta.RequiresNetwork,
			Resumable:       meta.Resumable,
		})
	}
	return result
}
