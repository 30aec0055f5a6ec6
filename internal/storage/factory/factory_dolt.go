//go:build cgo

package factory

import (
	"context"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/dolt"
)

func init() {
	RegisterBackend("dolt", func(ctx context.Context, path string, opts Options) (storage.Source, error) {
		return dolt.New(ctx, dolt.Config{
			Path:     path,
			Database: opts.Database,
		})
	})
}
