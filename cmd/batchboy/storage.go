package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"google.golang.org/api/option"

	"github.com/matthewmarion/batchboy/internal/blob"
	"github.com/matthewmarion/batchboy/internal/blob/gcs"
	"github.com/matthewmarion/batchboy/internal/blob/local"
	"github.com/matthewmarion/batchboy/internal/config"
)

// openStore returns the configured blob store and a function releasing it.
// The local store also serves its signed URLs until released.
func openStore(ctx context.Context, cfg *config.HarnessConfig) (blob.Store, func(), error) {
	switch cfg.StorageBackend {
	case "gcs":
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		store, err := gcs.New(ctx, cfg.GCSProject, cfg.GCSBucketPrefix, opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	default:
		fs := afero.NewOsFs()
		if err := fs.MkdirAll(cfg.StorageDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating storage directory: %w", err)
		}
		store := local.New(fs, cfg.StorageDir, cfg.StorageURL, []byte(cfg.StorageKey))

		lis, err := net.Listen("tcp", cfg.StorageListen)
		if err != nil {
			return nil, nil, fmt.Errorf("listening for blob requests on %s: %w", cfg.StorageListen, err)
		}
		srv := &http.Server{Handler: store.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("blob server failed", "error", err)
			}
		}()
		slog.Info("serving local blob store", "dir", cfg.StorageDir, "listen", cfg.StorageListen, "url", cfg.StorageURL)

		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}, nil
	}
}
