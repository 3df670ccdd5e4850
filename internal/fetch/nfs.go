package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

func init() {
	MustRegister(SchemeMetadata{
		Key:         "nfs",
		Description: "nfs export mounted on demand",
		MaxAttempts: 2,
		Resumable:   true,
	})
}

type nfsOpener struct {
	resolver NFSResolver
}

func (o *nfsOpener) Open(ctx context.Context, rawURL string, offset int64) (*Stream, error) {
	if o.resolver == nil {
		return nil, Permanent(errors.New("nfs source requested but no mount manager configured"))
	}
	local, err := o.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	stream, err := openLocal(local, offset)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Permanent(fmt.Errorf("%s not found under nfs mount (%s): %w", rawURL, local, err))
	}
	return stream, err
}
