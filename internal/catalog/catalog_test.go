package catalog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/fetch"
)

const sampleIndex = `# generated
bash-5.2-1.x86_64.rpm bash 1048576 1200 5400
coreutils-9.4-2.x86_64.rpm coreutils 2097152 1200 8000

grub2-2.06-1.x86_64.rpm grub2 4096 100 4096
`

const sampleManifest = `
values:
  version: "9.4"
  release: "2"
base_url: http://mirror/os/${arch}
packages:
  - template: Packages/bash-5.2-1.${arch}.rpm
    tier: required
  - template: Packages/coreutils-${version}-${release}.${arch}.rpm
    tier: recommended
  - template: Packages/grub2-2.06-1.${arch}.rpm
    tier: optional
    arch: [x86_64]
  - template: Packages/yaboot-1.3-1.${arch}.rpm
    tier: optional
    arch: [ppc64]
`

func TestParseIndex(t *testing.T) {
	idx, err := ParseIndex(strings.NewReader(sampleIndex))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(idx) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(idx))
	}
	d := idx["coreutils-9.4-2.x86_64.rpm"]
	if d.Name != "coreutils" || d.Size != 2097152 || d.HeaderStart != 1200 || d.HeaderEnd != 8000 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
}

func TestParseIndexRejectsBadRanges(t *testing.T) {
	cases := map[string]string{
		"start after end": "a.rpm a 100 50 40\n",
		"end past size":   "a.rpm a 100 10 200\n",
		"empty range":     "a.rpm a 100 10 10\n",
		"missing field":   "a.rpm a 100 10\n",
		"not a number":    "a.rpm a big 10 20\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIndex(strings.NewReader("# header\n" + input))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), "line 2") {
				t.Fatalf("error should name the line: %v", err)
			}
		})
	}
}

func TestLoadIndexCompressed(t *testing.T) {
	dir := t.TempDir()

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	if _, err := io.WriteString(gz, sampleIndex); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	gz.Close()

	var zstBuf bytes.Buffer
	enc, err := zstd.NewWriter(&zstBuf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := io.WriteString(enc, sampleIndex); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	enc.Close()

	for name, data := range map[string][]byte{"index.gz": gzBuf.Bytes(), "index.zst": zstBuf.Bytes(), "index.txt": []byte(sampleIndex)} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		idx, err := LoadIndex(p, "http://mirror/repodata/"+name)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if len(idx) != 3 {
			t.Fatalf("%s: expected 3 entries, got %d", name, len(idx))
		}
	}
}

func TestBuildExpandsTemplatesAndFiltersArch(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	idx, _ := ParseIndex(strings.NewReader(sampleIndex))

	cat, err := Build(m, idx, "x86_64")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(cat.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(cat.Entries))
	}
	second := cat.Entries[1]
	if second.Name != "coreutils" || second.Tier != TierRecommended {
		t.Fatalf("unexpected second entry %+v", second)
	}
	if second.URL != "http://mirror/os/x86_64/Packages/coreutils-9.4-2.x86_64.rpm" {
		t.Fatalf("unexpected url %s", second.URL)
	}
	if _, ok := cat.Lookup("grub2"); !ok {
		t.Fatalf("grub2 should be present for x86_64")
	}
}

func TestBuildReportsEveryMissingBasename(t *testing.T) {
	m, _ := ParseManifest(strings.NewReader(sampleManifest))
	idx, _ := ParseIndex(strings.NewReader("bash-5.2-1.ppc64.rpm bash 100 10 20\n"))

	_, err := Build(m, idx, "ppc64")
	var inconsistent *InconsistencyError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("expected InconsistencyError, got %v", err)
	}
	want := []string{"coreutils-9.4-2.ppc64.rpm", "yaboot-1.3-1.ppc64.rpm"}
	if strings.Join(inconsistent.Basenames, ",") != strings.Join(want, ",") {
		t.Fatalf("missing = %v want %v", inconsistent.Basenames, want)
	}
	if !strings.Contains(err.Error(), "regenerate") {
		t.Fatalf("error should ask for regeneration: %v", err)
	}
}

func TestExpandUndefinedPlaceholder(t *testing.T) {
	m := &Manifest{Values: map[string]string{"version": "1"}}
	if _, err := m.Expand("pkg-${version}-${changeset}.rpm", "x86_64"); err == nil || !strings.Contains(err.Error(), "changeset") {
		t.Fatalf("expected undefined placeholder error, got %v", err)
	}
}

func TestParseManifestRejectsUnknownTier(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("packages:\n  - template: a.rpm\n    tier: mandatory\n"))
	if err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestLoadThroughCache(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "manifest.yaml"), []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "index.txt"), []byte(sampleIndex), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	c, err := cache.New(t.TempDir(), fetch.New(nil, nil), nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	cat, err := Load(context.Background(), c,
		"file://"+filepath.Join(src, "manifest.yaml"),
		"file://"+filepath.Join(src, "index.txt"),
		"x86_64", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cat.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(cat.Entries))
	}
}
