// Package save writes finished artifacts to a gocloud.dev blob bucket.
package save

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Saver persists artifacts under unique keys
type Saver struct {
	Bucket *blob.Bucket
	// URL the bucket was opened from, used to describe saved locations
	URL string

	localDir string
}

// Open opens the bucket at bucketURL. Local file:// directories are created
// when missing.
func Open(ctx context.Context, bucketURL string) (*Saver, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket URL %q: %w", bucketURL, err)
	}

	s := &Saver{URL: bucketURL}
	if u.Scheme == "file" {
		s.localDir = localPath(u)
		if err := os.MkdirAll(s.localDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	s.Bucket = bkt
	return s, nil
}

// New wraps an already opened bucket
func New(bkt *blob.Bucket) *Saver {
	return &Saver{Bucket: bkt}
}

// Save writes data under name, picking "name (n).ext" when the key exists.
// It returns the key actually written.
func (s *Saver) Save(ctx context.Context, name string, data []byte) (string, error) {
	name = utils.SanitizeFilename(name)
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	var existsErr error
	key := utils.UniqueName(base, ext, func(candidate string) bool {
		ok, err := s.Bucket.Exists(ctx, candidate)
		if err != nil {
			existsErr = err
			return false
		}
		return ok
	})
	if existsErr != nil {
		return "", fmt.Errorf("failed to check %s: %w", key, existsErr)
	}

	opts := &blob.WriterOptions{ContentType: contentType(ext)}
	if err := s.Bucket.WriteAll(ctx, key, data, opts); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}

	utils.Debug("Saved %s (%s)", s.Location(key), utils.ConvertBytesToHumanReadable(int64(len(data))))
	return key, nil
}

// Location describes where key lives: a filesystem path for local buckets,
// otherwise the bucket URL joined with the key.
func (s *Saver) Location(key string) string {
	if s.localDir != "" {
		return filepath.Join(s.localDir, filepath.FromSlash(key))
	}
	if s.URL == "" {
		return key
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return key
	}
	u.RawQuery = ""
	u.Path = path.Join("/", u.Path, key)
	return u.String()
}

// Close releases the bucket
func (s *Saver) Close() error {
	if s.Bucket == nil {
		return nil
	}
	return s.Bucket.Close()
}

func contentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".zip":
		return "application/zip"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func localPath(u *url.URL) string {
	p := u.Path
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}
