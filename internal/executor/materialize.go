package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"

	"github.com/matthewmarion/batchboy/internal/state"
)

// Fetcher downloads a single file.
type Fetcher interface {
	Fetch(ctx context.Context, dst, src string) error
}

// GetterFetcher fetches plain http(s) URLs with go-getter. Other getters and
// archive detection are disabled so signed URLs are downloaded byte for byte.
type GetterFetcher struct{}

func NewGetterFetcher() *GetterFetcher {
	return &GetterFetcher{}
}

func (f *GetterFetcher) Fetch(ctx context.Context, dst, src string) error {
	httpGetter := &getter.HttpGetter{}
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
		Decompressors: map[string]getter.Decompressor{},
	}
	return client.Get()
}

// Materialize downloads each resource file into dir.
func Materialize(ctx context.Context, fetcher Fetcher, dir string, files []state.ResourceFile) error {
	for _, rf := range files {
		if !filepath.IsLocal(rf.FilePath) {
			return fmt.Errorf("resource file path %q must be relative to the working directory", rf.FilePath)
		}
		dst := filepath.Join(dir, rf.FilePath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rf.FilePath, err)
		}
		if err := fetcher.Fetch(ctx, dst, rf.URL); err != nil {
			return fmt.Errorf("downloading resource file %s: %w", rf.FilePath, err)
		}
	}
	return nil
}
