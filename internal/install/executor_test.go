package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/any-hub/any-install/internal/cache"
	"github.com/any-hub/any-install/internal/catalog"
	"github.com/any-hub/any-install/internal/fetch"
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/resolver"
	"github.com/any-hub/any-install/internal/txn"
	"github.com/any-hub/any-install/internal/txn/txntest"
)

const mb = 1024 * 1024

// recordingSink 记录进度调用序列。
type recordingSink struct {
	calls []string
}

func (s *recordingSink) PushStatusGroup(total int64) {
	s.calls = append(s.calls, fmt.Sprintf("group(%d)", total))
}

func (s *recordingSink) PushStatus(label string, portion int64) {
	s.calls = append(s.calls, fmt.Sprintf("push(%s,%d)", label, portion))
}

func (s *recordingSink) PopStatus() { s.calls = append(s.calls, "pop") }

func (s *recordingSink) PopStatusGroup() { s.calls = append(s.calls, "popgroup") }

type installFixture struct {
	cache *cache.Cache
	pkgs  []*packages.Package
}

// newInstallFixture 在临时目录里生成 A/B/C 三个包（稀疏文件）并构建目录。
func newInstallFixture(t *testing.T) installFixture {
	t.Helper()
	src := t.TempDir()
	sizes := map[string]int64{"A": 10 * mb, "B": 5 * mb, "C": 1 * mb}

	var index strings.Builder
	for _, name := range []string{"A", "B", "C"} {
		p := filepath.Join(src, name+".rpm")
		f, err := os.Create(p)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := f.Truncate(sizes[name]); err != nil {
			t.Fatalf("truncate %s: %v", name, err)
		}
		f.Close()
		fmt.Fprintf(&index, "%s.rpm %s %d 0 64\n", name, name, sizes[name])
	}

	idx, err := catalog.ParseIndex(strings.NewReader(index.String()))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	manifest := &catalog.Manifest{
		BaseURL: "file://" + src,
		Packages: []catalog.ManifestEntry{
			{Template: "A.rpm", Tier: "required"},
			{Template: "B.rpm", Tier: "recommended"},
			{Template: "C.rpm", Tier: "optional"},
		},
	}
	cat, err := catalog.Build(manifest, idx, "x86_64")
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	c, err := cache.New(t.TempDir(), fetch.New(nil, nil), nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return installFixture{cache: c, pkgs: packages.FromCatalog(cat, packages.Env{Store: c})}
}

func TestEndToEndInstall(t *testing.T) {
	fx := newInstallFixture(t)
	backend := &txntest.Backend{}
	ctx := context.Background()

	sel, err := resolver.New(backend, resolver.Options{Exclude: []string{"B"}, AutoResolve: true}, nil).Run(ctx, fx.pkgs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	install := backend.Keys(txn.ModeInstall)
	if len(install) != 1 || install[0].(*packages.Package).Name != "A" {
		t.Fatalf("install-mode packages = %v", install)
	}
	if sel.TotalMB() != 10 {
		t.Fatalf("weighted total = %d want 10", sel.TotalMB())
	}

	sink := &recordingSink{}
	tracker := NewTracker(sink)
	if err := NewExecutor(backend, tracker, nil).Run(ctx, sel); err != nil {
		t.Fatalf("install: %v", err)
	}

	want := "group(10) push(A.rpm,10) pop popgroup"
	if got := strings.Join(sink.calls, " "); got != want {
		t.Fatalf("progress calls = %q want %q", got, want)
	}
	a := install[0].(*packages.Package)
	if fx.cache.IsComplete(a.URL) {
		t.Fatalf("A's body should be deleted after install")
	}
	if _, err := os.Stat(fx.cache.LocalPath(a.URL)); !os.IsNotExist(err) {
		t.Fatalf("A's cached file still present: %v", err)
	}
	if len(backend.Opened) != 1 {
		t.Fatalf("opened = %v", backend.Opened)
	}
	snap := tracker.Snapshot()
	if snap.Total != 10 || snap.Done != 10 || snap.Installed != 1 || snap.Depth != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestUnpackErrorAbortsAndCleansUp(t *testing.T) {
	fx := newInstallFixture(t)
	a := fx.pkgs[0]
	backend := &txntest.Backend{Script: []txn.Event{
		{Kind: txn.EventTransactionStart},
		{Kind: txn.EventOpenFile, Key: a},
		{Kind: txn.EventUnpackError, Key: a, Path: "/usr/bin/a"},
		{Kind: txn.EventCloseFile, Key: a},
	}}
	sink := &recordingSink{}
	sel := &resolver.Selection{Install: []*packages.Package{a}}

	err := NewExecutor(backend, sink, nil).Run(context.Background(), sel)
	var txErr *BackendTransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected BackendTransactionError, got %v", err)
	}
	if len(backend.Opened) != 1 {
		t.Fatalf("expected A to be opened once, got %v", backend.Opened)
	}
	if _, statErr := os.Stat(backend.Opened[0]); !os.IsNotExist(statErr) {
		t.Fatalf("abandoned body should be released, stat err=%v", statErr)
	}
	if fx.cache.IsComplete(a.URL) {
		t.Fatalf("abandoned entry should not stay complete")
	}
	if txErr.Kind != "unpack_error" || txErr.Package != "A" || txErr.Path != "/usr/bin/a" {
		t.Fatalf("unexpected error %+v", txErr)
	}
	want := "group(10) push(A.rpm,10) pop popgroup"
	if got := strings.Join(sink.calls, " "); got != want {
		t.Fatalf("progress calls = %q want %q", got, want)
	}
}

func TestUnknownEventIsFatal(t *testing.T) {
	fx := newInstallFixture(t)
	backend := &txntest.Backend{Script: []txn.Event{{Kind: txn.EventKind(99)}}}
	sink := &recordingSink{}

	err := NewExecutor(backend, sink, nil).Run(context.Background(), &resolver.Selection{Install: fx.pkgs[:1]})
	var txErr *BackendTransactionError
	if !errors.As(err, &txErr) || txErr.Kind != "unknown_event" {
		t.Fatalf("expected unknown event error, got %v", err)
	}
	if sink.calls[len(sink.calls)-1] != "popgroup" {
		t.Fatalf("outer group must be popped, calls %v", sink.calls)
	}
}

func TestFetchFailureAbortsInstall(t *testing.T) {
	missing := packages.Register("ghost", "file:///nonexistent/ghost.rpm", 2*mb, catalog.TierRequired,
		packages.Env{Store: newInstallFixture(t).cache})
	backend := &txntest.Backend{Script: []txn.Event{{Kind: txn.EventOpenFile, Key: missing}}}
	sink := &recordingSink{}

	err := NewExecutor(backend, sink, nil).Run(context.Background(), &resolver.Selection{Install: []*packages.Package{missing}})
	var fetchErr *fetch.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	want := "group(2) push(ghost.rpm,2) pop popgroup"
	if got := strings.Join(sink.calls, " "); got != want {
		t.Fatalf("progress calls = %q want %q", got, want)
	}
}
