// Package metrics 汇总下载、缓存与安装阶段的 prometheus 指标，诊断服务通过 /metrics 暴露。
//
//nolint:gochecknoglobals
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anyinstall"

var (
	// FetchAttempts 按协议与结果（completed/partial/retry/failed）统计下载尝试次数。
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "The total number of fetch attempts by scheme and result.",
	}, []string{"scheme", "result"})

	// FetchBytes 统计写入缓存的字节数。
	FetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "bytes_total",
		Help:      "The total number of bytes written to the cache.",
	}, []string{"scheme"})

	// CacheEvictions 记录 clobber/integrity/vanished 等原因导致的缓存淘汰。
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "The total number of cache entries dropped.",
	}, []string{"reason"})

	ResolverChecks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "checks_total",
		Help:      "The total number of dependency check rounds.",
	})

	InstallPackages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "install",
		Name:      "packages_total",
		Help:      "The total number of packages handed to the transaction backend.",
	}, []string{"result"})

	// InstallDuration 记录单个包从 open 到 close 的耗时。
	InstallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "install",
		Name:      "package_duration_seconds",
		Help:      "The time between the open and close callbacks of a package.",
		Buckets:   prometheus.DefBuckets,
	})
)
