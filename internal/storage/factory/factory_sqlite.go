package factory

import (
	"context"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/sqlite"
)

func init() {
	RegisterBackend("sqlite", func(ctx context.Context, path string, opts Options) (storage.Source, error) {
		return sqlite.New(ctx, path)
	})
}
