// Package install runs an ordered transaction: it feeds package bodies to the
// backend on demand, deletes each body as soon as the backend closes it, and
// reports weighted progress through a ProgressSink.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-install/internal/logging"
	"github.com/any-hub/any-install/internal/metrics"
	"github.com/any-hub/any-install/internal/packages"
	"github.com/any-hub/any-install/internal/resolver"
	"github.com/any-hub/any-install/internal/txn"
)

// Executor 驱动事务后端运行。
type Executor struct {
	backend txn.Backend
	sink    ProgressSink
	logger  *logrus.Logger
	flags   txn.RunFlags
}

// Option 配置 Executor。
type Option func(*Executor)

// WithRunFlags 设置透传给后端的运行参数。
func WithRunFlags(flags txn.RunFlags) Option {
	return func(e *Executor) {
		e.flags = flags
	}
}

// NewExecutor 构造 Executor。
func NewExecutor(backend txn.Backend, sink ProgressSink, logger *logrus.Logger, opts ...Option) *Executor {
	e := &Executor{backend: backend, sink: sink, logger: logging.OrDiscard(logger)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type openPackage struct {
	file    *os.File
	started time.Time
}

// run 是单次 Run 的状态，只在安装 goroutine 中访问。
type run struct {
	*Executor
	open  map[*packages.Package]*openPackage
	cbErr error
}

// Run 以选择结果的总 MB 作为外层进度组运行事务。任一回调出错即中止；
// 无论成功与否，打开的句柄都会关闭、对应包体从缓存删除，外层进度组都会弹出。
func (e *Executor) Run(ctx context.Context, sel *resolver.Selection) error {
	r := &run{Executor: e, open: make(map[*packages.Package]*openPackage)}

	e.sink.PushStatusGroup(sel.TotalMB())
	defer func() {
		for p, op := range r.open {
			op.file.Close()
			fields := logging.PackageFields(p.Name, p.Basename, string(p.Tier))
			if err := p.Release(); err != nil {
				e.logger.WithFields(fields).WithError(err).Warn("install_release_failed")
			}
			e.sink.PopStatus()
			e.logger.WithFields(fields).Warn("install_handle_abandoned")
		}
		e.sink.PopStatusGroup()
	}()

	runErr := e.backend.Run(ctx, r.handle, e.flags)
	if r.cbErr != nil {
		return r.cbErr
	}
	if runErr != nil {
		var txErr *BackendTransactionError
		if errors.As(runErr, &txErr) {
			return runErr
		}
		return &BackendTransactionError{Kind: "run", Err: runErr}
	}
	return nil
}

func (r *run) handle(ctx context.Context, ev txn.Event) (*os.File, error) {
	f, err := r.dispatch(ctx, ev)
	if err != nil && r.cbErr == nil {
		r.cbErr = err
	}
	return f, err
}

func (r *run) dispatch(ctx context.Context, ev txn.Event) (*os.File, error) {
	switch ev.Kind {
	case txn.EventTransactionStart, txn.EventTransactionProgress, txn.EventTransactionStop:
		return nil, nil
	case txn.EventOpenFile:
		p, err := packageOf(ev)
		if err != nil {
			return nil, err
		}
		return r.openFile(ctx, p)
	case txn.EventCloseFile:
		p, err := packageOf(ev)
		if err != nil {
			return nil, err
		}
		return nil, r.closeFile(p)
	case txn.EventUnpackError, txn.EventCPIOError:
		txErr := &BackendTransactionError{Kind: ev.Kind.String(), Path: ev.Path}
		if p, ok := ev.Key.(*packages.Package); ok {
			txErr.Package = p.Name
		}
		metrics.InstallPackages.WithLabelValues("failed").Inc()
		r.logger.WithFields(logrus.Fields{
			"action":  "install",
			"package": txErr.Package,
			"path":    ev.Path,
		}).Error(ev.Kind.String())
		return nil, txErr
	default:
		r.logger.WithFields(logrus.Fields{"action": "install", "event": int(ev.Kind)}).Error("install_unknown_event")
		return nil, &BackendTransactionError{Kind: "unknown_event", Err: fmt.Errorf("unexpected callback event %d", ev.Kind)}
	}
}

// openFile 推入以包大小为权重的状态，阻塞到包体缓存完成后返回只读句柄。
func (r *run) openFile(ctx context.Context, p *packages.Package) (*os.File, error) {
	fields := logging.PackageFields(p.Name, p.Basename, string(p.Tier))
	r.sink.PushStatus(p.Basename, p.SizeMB())

	local, err := p.LocalPath(ctx)
	if err != nil {
		r.sink.PopStatus()
		metrics.InstallPackages.WithLabelValues("failed").Inc()
		r.logger.WithFields(fields).WithError(err).Error("install_fetch_failed")
		return nil, fmt.Errorf("fetch %s: %w", p.Name, err)
	}
	f, err := os.Open(local)
	if err != nil {
		r.sink.PopStatus()
		metrics.InstallPackages.WithLabelValues("failed").Inc()
		return nil, &BackendTransactionError{Kind: "open", Package: p.Name, Path: local, Err: err}
	}
	r.open[p] = &openPackage{file: f, started: time.Now()}
	r.logger.WithFields(fields).Debug("install_open")
	return f, nil
}

// closeFile 关闭句柄、删除缓存副本并弹出状态。
func (r *run) closeFile(p *packages.Package) error {
	op, ok := r.open[p]
	if !ok {
		return &BackendTransactionError{Kind: "close", Package: p.Name, Err: errors.New("package was not opened")}
	}
	delete(r.open, p)
	op.file.Close()

	fields := logging.PackageFields(p.Name, p.Basename, string(p.Tier))
	if err := p.Release(); err != nil {
		r.logger.WithFields(fields).WithError(err).Warn("install_release_failed")
	}
	r.sink.PopStatus()
	metrics.InstallPackages.WithLabelValues("installed").Inc()
	metrics.InstallDuration.Observe(time.Since(op.started).Seconds())
	r.logger.WithFields(fields).Info("install_package_done")
	return nil
}

func packageOf(ev txn.Event) (*packages.Package, error) {
	p, ok := ev.Key.(*packages.Package)
	if !ok || p == nil {
		return nil, &BackendTransactionError{Kind: ev.Kind.String(), Err: fmt.Errorf("callback key %T is not a package", ev.Key)}
	}
	return p, nil
}
