package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/logging"
)

// Entry 是清单与索引合并后的一个可安装包。
type Entry struct {
	Descriptor
	URL  string
	Tier Tier
}

// Catalog 保持清单中的顺序。
type Catalog struct {
	Arch    string
	Entries []Entry
}

// InconsistencyError 表示清单引用了索引中不存在的 basename，索引需要重新生成。
type InconsistencyError struct {
	Basenames []string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("metadata index is stale; regenerate it (missing: %s)", strings.Join(e.Basenames, ", "))
}

// Source 是 Load 依赖的缓存能力，*cache.Cache 满足该接口。
type Source interface {
	Fetch(ctx context.Context, rawURL string, opts cache.FetchOptions) (cache.Status, error)
	LocalPath(rawURL string) string
}

// Build 按目标架构展开清单并与索引合并。所有缺失的 basename 汇总到一个 InconsistencyError。
func Build(m *Manifest, idx Index, arch string) (*Catalog, error) {
	base, err := m.Expand(m.BaseURL, arch)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}

	cat := &Catalog{Arch: arch}
	seen := make(map[string]struct{})
	var missing []string
	for _, item := range m.Packages {
		if !item.supports(arch) {
			continue
		}
		rel, err := m.Expand(item.Template, arch)
		if err != nil {
			return nil, err
		}
		tier, err := ParseTier(item.Tier)
		if err != nil {
			return nil, err
		}
		basename := path.Base(rel)
		if _, dup := seen[basename]; dup {
			continue
		}
		seen[basename] = struct{}{}

		desc, ok := idx[basename]
		if !ok {
			missing = append(missing, basename)
			continue
		}
		cat.Entries = append(cat.Entries, Entry{Descriptor: desc, URL: resolveURL(base, rel), Tier: tier})
	}
	if len(missing) > 0 {
		return nil, &InconsistencyError{Basenames: missing}
	}
	return cat, nil
}

// Load 通过缓存拉取清单与索引并构建 Catalog。
func Load(ctx context.Context, src Source, manifestURL, indexURL, arch string, logger *logrus.Logger) (*Catalog, error) {
	logger = logging.OrDiscard(logger)

	if _, err := src.Fetch(ctx, manifestURL, cache.FetchOptions{}); err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	manifest, err := LoadManifest(src.LocalPath(manifestURL))
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	if _, err := src.Fetch(ctx, indexURL, cache.FetchOptions{}); err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	idx, err := LoadIndex(src.LocalPath(indexURL), indexURL)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if len(idx) == 0 {
		return nil, ErrEmptyIndex
	}

	cat, err := Build(manifest, idx, arch)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action":   "catalog_load",
			"manifest": logging.RedactURL(manifestURL),
			"index":    logging.RedactURL(indexURL),
		}).WithError(err).Error("catalog_inconsistent")
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"action":   "catalog_load",
		"arch":     arch,
		"packages": len(cat.Entries),
	}).Info("catalog_loaded")
	return cat, nil
}

// Lookup 按逻辑名查找条目。
func (c *Catalog) Lookup(name string) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
