package blogdesk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AssetStore is blob storage for images. Put returns a durable URL; Delete
// releases an asset previously returned by Put. Owns reports whether a URL
// was produced by this store, so externally hosted URLs are never deleted.
type AssetStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
	Owns(url string) bool
}

// DiskAssetStore writes assets to a local directory that the HTTP server
// exposes under urlPrefix.
type DiskAssetStore struct {
	dir       string
	urlPrefix string
}

// NewDiskAssetStore creates the upload directory if needed.
func NewDiskAssetStore(dir, urlPrefix string) (*DiskAssetStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &DiskAssetStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Dir returns the directory assets are written to.
func (s *DiskAssetStore) Dir() string {
	return s.dir
}

// Put writes data under name, appending a counter if the name is taken.
// O_EXCL makes the existence check and the create a single step.
func (s *DiskAssetStore) Put(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)
	candidate := base + ext
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(filepath.Join(s.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			candidate = fmt.Sprintf("%s-%d%s", base, counter+1, ext)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create asset: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write asset: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close asset: %w", err)
		}
		return s.urlPrefix + "/" + candidate, nil
	}
}

// Delete removes the file behind url. A file that is already gone is not an
// error.
func (s *DiskAssetStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, ok := s.nameOf(url)
	if !ok {
		return fmt.Errorf("asset %q is not managed by this store", url)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove asset: %w", err)
	}
	return nil
}

func (s *DiskAssetStore) Owns(url string) bool {
	_, ok := s.nameOf(url)
	return ok
}

func (s *DiskAssetStore) nameOf(url string) (string, bool) {
	name, found := strings.CutPrefix(url, s.urlPrefix+"/")
	if !found || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", false
	}
	return name, true
}
