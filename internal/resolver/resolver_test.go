package resolver

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
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/txn"
	"github.com/any-hub/any-install/internal/txn/txntest"
)

// stubStore 让所有包共享同一个本地文件，Fetch 不做任何 I/O。
type stubStore struct{ path string }

func (s stubStore) Fetch(context.Context, string, cache.FetchOptions) (cache.Status, error) {
	return cache.StatusCompleted, nil
}

func (s stubStore) LocalPath(string) string { return s.path }

func (s stubStore) Clobber(string) error { return nil }

func (s stubStore) Detach(string) error { return nil }

type pkgSpec struct {
	name   string
	tier   catalog.Tier
	sizeMB int64
}

func newPool(t *testing.T, specs ...pkgSpec) []*packages.Package {
	t.Helper()
	sizes := make([]int64, len(specs))
	for i, s := range specs {
		sizes[i] = s.sizeMB * 1024 * 1024
	}
	return newPoolBytes(t, specs, sizes)
}

// newPoolBytes 与 newPool 相同，但大小按字节给出。
func newPoolBytes(t *testing.T, specs []pkgSpec, sizes []int64) []*packages.Package {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	cat := &catalog.Catalog{}
	for i, s := range specs {
		cat.Entries = append(cat.Entries, catalog.Entry{
			Descriptor: catalog.Descriptor{
				Basename:    s.name + ".rpm",
				Name:        s.name,
				Size:        sizes[i],
				HeaderStart: 0,
				HeaderEnd:   16,
			},
			URL:  "http://mirror/" + s.name + ".rpm",
			Tier: s.tier,
		})
	}
	return packages.FromCatalog(cat, packages.Env{Store: stubStore{path: path}})
}

func names(pkgs []*packages.Package) string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name
	}
	return strings.Join(out, ",")
}

func TestDecideTruthTable(t *testing.T) {
	cases := []struct {
		tier     catalog.Tier
		excluded bool
		included bool
		want     Decision
	}{
		{catalog.TierRequired, false, false, DecisionInstall},
		{catalog.TierRequired, true, false, DecisionInstall},
		{catalog.TierRequired, false, true, DecisionInstall},
		{catalog.TierRecommended, false, false, DecisionInstall},
		{catalog.TierRecommended, true, false, DecisionOmit},
		{catalog.TierRecommended, false, true, DecisionInstall},
		{catalog.TierOptional, false, false, DecisionAvailable},
		{catalog.TierOptional, true, false, DecisionAvailable},
		{catalog.TierOptional, false, true, DecisionInstall},
	}
	for _, tc := range cases {
		if got := Decide(tc.tier, tc.excluded, tc.included); got != tc.want {
			t.Errorf("Decide(%s, excluded=%v, included=%v) = %s want %s", tc.tier, tc.excluded, tc.included, got, tc.want)
		}
	}
}

func TestSelectFollowsPolicy(t *testing.T) {
	pool := newPool(t,
		pkgSpec{"A", catalog.TierRequired, 10},
		pkgSpec{"B", catalog.TierRecommended, 5},
		pkgSpec{"C", catalog.TierOptional, 1},
	)
	backend := &txntest.Backend{}
	r := New(backend, Options{Exclude: []string{"B"}}, nil)

	sel, err := r.Select(context.Background(), pool)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if names(sel.Install) != "A" || names(sel.Available) != "C" || names(sel.Omitted) != "B" {
		t.Fatalf("install=%s available=%s omitted=%s", names(sel.Install), names(sel.Available), names(sel.Omitted))
	}
	if len(backend.Added) != 2 || backend.Added[0].Mode != txn.ModeInstall || backend.Added[1].Mode != txn.ModeAvailable {
		t.Fatalf("unexpected backend additions %+v", backend.Added)
	}
	if sel.TotalMB() != 10 {
		t.Fatalf("total weight = %d want 10", sel.TotalMB())
	}
}

func TestPlanWithoutBackend(t *testing.T) {
	pool := newPool(t,
		pkgSpec{"A", catalog.TierOptional, 1},
		pkgSpec{"B", catalog.TierRecommended, 2},
		pkgSpec{"C", catalog.TierRequired, 4},
	)
	sel := Plan(pool, Options{Include: []string{"A"}, Exclude: []string{"C"}})
	if names(sel.Install) != "A,B,C" || len(sel.Available) != 0 || len(sel.Omitted) != 0 {
		t.Fatalf("install=%s available=%s omitted=%s", names(sel.Install), names(sel.Available), names(sel.Omitted))
	}
	if sel.TotalMB() != 7 {
		t.Fatalf("total weight = %d want 7", sel.TotalMB())
	}
}

func TestSmallPackagesStillCarryWeight(t *testing.T) {
	var (
		specs []pkgSpec
		sizes []int64
	)
	for i := 0; i < 20; i++ {
		specs = append(specs, pkgSpec{name: fmt.Sprintf("lib%02d", i), tier: catalog.TierRequired})
		sizes = append(sizes, 900*1024)
	}
	specs = append(specs, pkgSpec{name: "kernel", tier: catalog.TierRequired})
	sizes = append(sizes, 5*1024*1024+1)

	sel := Plan(newPoolBytes(t, specs, sizes), Options{})
	for _, p := range sel.Install {
		if p.SizeMB() < 1 {
			t.Fatalf("%s has no progress weight", p.Name)
		}
	}
	if sel.TotalMB() != 26 {
		t.Fatalf("total weight = %d want 26", sel.TotalMB())
	}
}

func TestResolveConverges(t *testing.T) {
	pool := newPool(t,
		pkgSpec{"A", catalog.TierRequired, 10},
		pkgSpec{"D", catalog.TierOptional, 3},
	)
	backend := &txntest.Backend{Checks: [][]txn.Unresolved{
		{{Requiring: "A", Requirement: "libd.so.1", Suggested: "D"}},
	}}
	r := New(backend, Options{AutoResolve: true}, nil)

	sel, err := r.Select(context.Background(), pool[:1])
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := r.Resolve(context.Background(), sel, pool); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if backend.CheckCalls != 2 {
		t.Fatalf("check calls = %d want 2", backend.CheckCalls)
	}
	if keys := backend.Keys(txn.ModeAvailable); len(keys) != 1 || keys[0].(*packages.Package).Name != "D" {
		t.Fatalf("available additions = %v", keys)
	}
	if names(sel.Resolved) != "D" || sel.ResolvedSize != 3*1024*1024 {
		t.Fatalf("resolved=%s size=%d", names(sel.Resolved), sel.ResolvedSize)
	}
	if sel.TotalMB() != 13 {
		t.Fatalf("total weight = %d want 13", sel.TotalMB())
	}
}

func TestResolveAggregatesAllMissing(t *testing.T) {
	pool := newPool(t, pkgSpec{"A", catalog.TierRequired, 1})
	backend := &txntest.Backend{Checks: [][]txn.Unresolved{{
		{Requiring: "A", Requirement: "libx.so.1"},
		{Requiring: "A", Requirement: "liby.so.2", Suggested: "not-in-catalog"},
	}}}
	r := New(backend, Options{AutoResolve: true}, nil)

	_, err := r.Run(context.Background(), pool)
	var unsat *UnsatisfiedDependencyError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedDependencyError, got %v", err)
	}
	if len(unsat.Missing) != 2 {
		t.Fatalf("expected both requirements reported, got %v", unsat.Missing)
	}
	if backend.Ordered {
		t.Fatalf("transaction must not be ordered after a resolution failure")
	}
}

func TestResolveIgnoreMissing(t *testing.T) {
	pool := newPool(t, pkgSpec{"A", catalog.TierRequired, 1})
	backend := &txntest.Backend{Checks: [][]txn.Unresolved{{{Requiring: "A", Requirement: "libx.so.1"}}}}
	r := New(backend, Options{IgnoreMissing: true}, nil)

	if _, err := r.Run(context.Background(), pool); err != nil {
		t.Fatalf("ignore-missing should drop the requirement: %v", err)
	}
	if !backend.Ordered {
		t.Fatalf("transaction should be ordered")
	}
}

func TestResolveDropsRequirementsSatisfiedLater(t *testing.T) {
	pool := newPool(t,
		pkgSpec{"A", catalog.TierRequired, 1},
		pkgSpec{"D", catalog.TierOptional, 1},
	)
	backend := &txntest.Backend{Checks: [][]txn.Unresolved{
		{
			{Requiring: "A", Requirement: "libd.so.1", Suggested: "D"},
			{Requiring: "A", Requirement: "libd-extra.so.1"},
		},
	}}
	r := New(backend, Options{AutoResolve: true}, nil)

	sel, err := r.Select(context.Background(), pool[:1])
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := r.Resolve(context.Background(), sel, pool); err != nil {
		t.Fatalf("requirement cleared by the second check must not be reported: %v", err)
	}
}

func TestWhiteoutSuppression(t *testing.T) {
	pool := newPool(t, pkgSpec{"glibc", catalog.TierRequired, 1})
	backend := &txntest.Backend{Checks: [][]txn.Unresolved{{
		{Requiring: "glibc", Requirement: "nscd"},
		{Requiring: "glibc", Requirement: "libfoo.so"},
	}}}
	edge := txn.Edge{Requiring: "glibc", Provided: "nscd"}
	r := New(backend, Options{Whiteouts: []txn.Edge{edge, edge}}, nil)

	_, err := r.Run(context.Background(), pool)
	var unsat *UnsatisfiedDependencyError
	if !errors.As(err, &unsat) {
		t.Fatalf("expected UnsatisfiedDependencyError, got %v", err)
	}
	for _, m := range unsat.Missing {
		if strings.Contains(m, "nscd") {
			t.Fatalf("whiteout edge leaked into unresolved list: %v", unsat.Missing)
		}
	}
	if len(unsat.Missing) != 1 {
		t.Fatalf("unexpected missing list %v", unsat.Missing)
	}
	if len(backend.Whiteouts) != 1 || backend.Whiteouts[0] != edge {
		t.Fatalf("whiteout table not pushed once to backend: %v", backend.Whiteouts)
	}
}

func TestProblemsAreNotFatal(t *testing.T) {
	pool := newPool(t, pkgSpec{"A", catalog.TierRequired, 1})
	backend := &txntest.Backend{ProblemList: []string{"A conflicts with file from B"}}
	r := New(backend, Options{}, nil)

	if _, err := r.Run(context.Background(), pool); err != nil {
		t.Fatalf("problems after ordering must only be logged: %v", err)
	}
	if backend.CheckCalls != 1 || !backend.Ordered {
		t.Fatalf("checks=%d ordered=%v", backend.CheckCalls, backend.Ordered)
	}
}
