package factory

import (
	"context"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/mysql"
)

func init() {
	RegisterBackend("mysql", func(ctx context.Context, path string, opts Options) (storage.Source, error) {
		cfg := mysql.Config{
			DSN:      opts.DSN,
			Host:     opts.Host,
			Port:     opts.Port,
			User:     opts.User,
			Password: opts.Password,
			Database: opts.Database,
		}
		if cfg.DSN == "" {
			if cfg.Host == "" {
				cfg.Host = "127.0.0.1"
			}
			if cfg.Port == 0 {
				cfg.Port = 3306
			}
			if cfg.User == "" {
				cfg.User = "root"
			}
			if cfg.Database == "" {
				cfg.Database = "metaline"
			}
		}
		return mysql.New(ctx, cfg)
	})
}
