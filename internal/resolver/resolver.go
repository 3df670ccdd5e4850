// Package resolver turns a catalog into a checked, ordered transaction: it
// applies the tier selection policy, pushes the whiteout table, and iterates the
// backend dependency check, pulling in suggested packages until nothing changes.
package resolver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
	"github.com/any-hub/any-install/internal/metrics"
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/txn"
)

// Options 是调用方在前端收集到的选择与解析开关。
type Options struct {
	Exclude       []string
	Include       []string
	AutoResolve   bool
	IgnoreMissing bool
	Whiteouts     []txn.Edge
}

// Selection 记录加入事务的包。
type Selection struct {
	// Install 是按策略以安装模式加入的包。
	Install []*packages.Package
	// Available 是按策略以 available 模式加入的包。
	Available []*packages.Package
	// Resolved 是解析循环为满足依赖而追加的包。
	Resolved []*packages.Package
	// Omitted 是被调用方排除的包。
	Omitted []*packages.Package
	// ResolvedSize 是追加包的字节数之和。
	ResolvedSize int64
}

// TotalMB 返回安装进度的总权重：安装模式包与追加包各自 SizeMB 之和，
// 与执行阶段逐包压入的权重一致。
func (s *Selection) TotalMB() int64 {
	var total int64
	for _, p := range s.Install {
		total += p.SizeMB()
	}
	for _, p := range s.Resolved {
		total += p.SizeMB()
	}
	return total
}

// Resolver 针对一个事务后端运行选择与解析。
type Resolver struct {
	backend   txn.Backend
	opts      Options
	whiteouts *WhiteoutTable
	logger    *logrus.Logger
}

// New 构造 Resolver。
func New(backend txn.Backend, opts Options, logger *logrus.Logger) *Resolver {
	return &Resolver{
		backend:   backend,
		opts:      opts,
		whiteouts: NewWhiteoutTable(opts.Whiteouts),
		logger:    logging.OrDiscard(logger),
	}
}

// Run 依次执行 Select、Resolve 与 Order。
func (r *Resolver) Run(ctx context.Context, pkgs []*packages.Package) (*Selection, error) {
	sel, err := r.Select(ctx, pkgs)
	if err != nil {
		return nil, err
	}
	if err := r.Resolve(ctx, sel, pkgs); err != nil {
		return sel, err
	}
	if err := r.Order(); err != nil {
		return sel, err
	}
	return sel, nil
}

// Plan 只按选择策略划分包，不接触事务后端，驱动程序用它做预演与预取。
func Plan(pkgs []*packages.Package, opts Options) *Selection {
	excluded, included := toSet(opts.Exclude), toSet(opts.Include)
	sel := &Selection{}
	for _, p := range pkgs {
		_, ex := excluded[p.Name]
		_, in := included[p.Name]
		switch Decide(p.Tier, ex, in) {
		case DecisionInstall:
			sel.Install = append(sel.Install, p)
		case DecisionAvailable:
			sel.Available = append(sel.Available, p)
		default:
			sel.Omitted = append(sel.Omitted, p)
		}
	}
	return sel
}

// Select 按选择策略把包加入事务，头部在加入前读取。
func (r *Resolver) Select(ctx context.Context, pkgs []*packages.Package) (*Selection, error) {
	sel := Plan(pkgs, r.opts)
	for _, p := range sel.Omitted {
		r.logger.WithFields(logging.PackageFields(p.Name, p.Basename, string(p.Tier))).Debug("package_omitted")
	}
	for _, group := range []struct {
		pkgs []*packages.Package
		mode txn.Mode
	}{
		{sel.Install, txn.ModeInstall},
		{sel.Available, txn.ModeAvailable},
	} {
		for _, p := range group.pkgs {
			if err := r.add(ctx, p, group.mode); err != nil {
				return nil, err
			}
			r.logger.WithFields(logging.PackageFields(p.Name, p.Basename, string(p.Tier))).
				WithField("mode", group.mode.String()).Debug("package_selected")
		}
	}
	return sel, nil
}

// Resolve 先应用 whiteout 表，再循环调用 Check：有建议包且开启自动解析时以
// available 方式追加；开启 ignore-missing 时记录后丢弃；否则记下描述。
// 一轮没有追加任何包即结束，最后一轮仍未满足的描述汇总成一个错误返回。
func (r *Resolver) Resolve(ctx context.Context, sel *Selection, pool []*packages.Package) error {
	if err := r.whiteouts.apply(r.backend); err != nil {
		return fmt.Errorf("apply whiteout: %w", err)
	}

	byName := make(map[string]*packages.Package, len(pool))
	for _, p := range pool {
		if _, dup := byName[p.Name]; !dup {
			byName[p.Name] = p
		}
	}
	inTxn := make(map[*packages.Package]struct{}, len(sel.Install)+len(sel.Available))
	for _, p := range sel.Install {
		inTxn[p] = struct{}{}
	}
	for _, p := range sel.Available {
		inTxn[p] = struct{}{}
	}

	var missing []string
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		unresolved, err := r.backend.Check(r.logConflict)
		metrics.ResolverChecks.Inc()
		if err != nil {
			return fmt.Errorf("dependency check: %w", err)
		}
		unresolved = r.whiteouts.filter(unresolved)
		missing = missing[:0]
		if len(unresolved) == 0 {
			break
		}

		added := 0
		for _, u := range unresolved {
			fields := logrus.Fields{"action": "resolve", "round": round, "requiring": u.Requiring, "requirement": u.Requirement}
			if r.opts.AutoResolve && u.Suggested != "" {
				if p, ok := byName[u.Suggested]; ok {
					if _, present := inTxn[p]; !present {
						if err := r.add(ctx, p, txn.ModeAvailable); err != nil {
							return err
						}
						inTxn[p] = struct{}{}
						sel.Resolved = append(sel.Resolved, p)
						sel.ResolvedSize += p.Size
						added++
						r.logger.WithFields(fields).WithField("suggested", u.Suggested).Info("dependency_auto_resolved")
						continue
					}
				}
			}
			if r.opts.IgnoreMissing {
				r.logger.WithFields(fields).Warn("dependency_ignored")
				continue
			}
			missing = appendUnique(missing, u.String())
		}
		if added == 0 {
			break
		}
	}

	if len(missing) > 0 {
		err := &UnsatisfiedDependencyError{Missing: append([]string(nil), missing...)}
		r.logger.WithFields(logrus.Fields{"action": "resolve", "missing": len(missing)}).WithError(err).Error("dependencies_unsatisfied")
		return err
	}
	return nil
}

// Order 让后端排序事务。排序后的 problems 只记录日志，不视为致命。
func (r *Resolver) Order() error {
	if err := r.backend.Order(); err != nil {
		return fmt.Errorf("order transaction: %w", err)
	}
	for _, problem := range r.backend.Problems() {
		r.logger.WithFields(logrus.Fields{"action": "order"}).Warn(problem)
	}
	return nil
}

func (r *Resolver) add(ctx context.Context, p *packages.Package, mode txn.Mode) error {
	header, err := p.Header(ctx)
	if err != nil {
		return fmt.Errorf("read header of %s: %w", p.Name, err)
	}
	if err := r.backend.AddInstall(header, p, mode); err != nil {
		return fmt.Errorf("add %s to transaction: %w", p.Name, err)
	}
	return nil
}

func (r *Resolver) logConflict(description string) {
	r.logger.WithFields(logrus.Fields{"action": "check"}).Warn("transaction_conflict: " + description)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
