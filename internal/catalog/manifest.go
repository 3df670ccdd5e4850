package catalog

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是远端清单：占位符取值、下载基地址与有序的包模板列表。
type Manifest struct {
	Values   map[string]string `yaml:"values"`
	BaseURL  string            `yaml:"base_url"`
	Packages []ManifestEntry   `yaml:"packages"`
}

// ManifestEntry 是一条包模板。Arch 为空表示适用于所有架构。
type ManifestEntry struct {
	Template string   `yaml:"template"`
	Tier     string   `yaml:"tier"`
	Arch     []string `yaml:"arch"`
}

// ParseManifest 解析 YAML 清单。
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Packages) == 0 {
		return nil, fmt.Errorf("manifest lists no packages")
	}
	for i, entry := range m.Packages {
		if strings.TrimSpace(entry.Template) == "" {
			return nil, fmt.Errorf("manifest packages[%d]: template required", i)
		}
		if _, err := ParseTier(entry.Tier); err != nil {
			return nil, fmt.Errorf("manifest packages[%d]: %w", i, err)
		}
	}
	return &m, nil
}

// LoadManifest 从本地文件读取清单。
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseManifest(f)
}

// Expand 用清单取值替换 ${name} 占位符；arch 总是指向目标架构。
// 未定义的占位符返回错误，避免拼出错误的文件名后才在下载时失败。
func (m *Manifest) Expand(template, arch string) (string, error) {
	var missing []string
	out := os.Expand(template, func(key string) string {
		if key == "arch" && arch != "" {
			return arch
		}
		if v, ok := m.Values[key]; ok {
			return v
		}
		missing = append(missing, key)
		return ""
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("template %q: undefined placeholder(s) %s", template, strings.Join(missing, ", "))
	}
	return out, nil
}

func (e ManifestEntry) supports(arch string) bool {
	if len(e.Arch) == 0 {
		return true
	}
	for _, a := range e.Arch {
		if a == arch || a == "noarch" {
			return true
		}
	}
	return false
}

// resolveURL 把展开后的相对路径拼到 base 上，已是绝对 URL 时原样返回。
func resolveURL(base, rel string) string {
	if strings.Contains(rel, "://") || base == "" {
		return rel
	}
	scheme := ""
	rest := base
	if i := strings.Index(base, "://"); i >= 0 {
		scheme, rest = base[:i+3], base[i+3:]
	}
	return scheme + path.Join(rest, rel)
}
