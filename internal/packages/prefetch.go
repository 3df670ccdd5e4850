package packages

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PrefetchHeaders 并行读取各包头部，同一 URL 只处理一次。parallelism <= 0 时退化为串行。
func PrefetchHeaders(ctx context.Context, pkgs []*Package, parallelism int) error {
	if parallelism <= 0 {
		parallelism = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	seen := make(map[string]struct{}, len(pkgs))
	for _, p := range pkgs {
		if _, dup := seen[p.URL]; dup {
			continue
		}
		seen[p.URL] = struct{}{}
		g.Go(func() error {
			_, err := p.Header(ctx)
			return err
		})
	}
	return g.Wait()
}
