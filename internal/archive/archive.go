// Package archive bundles fetched images into a single compressed file.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Builder collects named payloads and produces one archive
type Builder interface {
	// Add stages an entry. Names that are already taken get a " (n)" suffix.
	Add(name string, data []byte) error
	// Len returns the number of staged entries
	Len() int
	// Finalize compresses all entries, reporting progress from 0 to 100
	Finalize(ctx context.Context, onProgress func(percent float64)) ([]byte, error)
}

// Loader prepares a Builder before any image is fetched
type Loader func(ctx context.Context) (Builder, error)

// LoadError reports that the archiver could not be initialised
type LoadError struct {
	Format string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s archiver could not be loaded: %v", e.Format, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadZip returns an empty zip Builder
func LoadZip(ctx context.Context) (Builder, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Format: "zip", Err: err}
	}
	return NewZip(), nil
}

type entry struct {
	name string
	data []byte
}

// Zip builds a deflate-compressed zip archive in memory
type Zip struct {
	entries  []entry
	names    map[string]bool
	modified time.Time
}

// NewZip creates an empty zip builder
func NewZip() *Zip {
	return &Zip{
		names:    make(map[string]bool),
		modified: time.Now(),
	}
}

func (z *Zip) Add(name string, data []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("archive entry needs a name")
	}

	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	name = utils.UniqueName(base, ext, func(candidate string) bool {
		return z.names[strings.ToLower(candidate)]
	})

	z.names[strings.ToLower(name)] = true
	z.entries = append(z.entries, entry{name: name, data: data})
	return nil
}

func (z *Zip) Len() int {
	return len(z.entries)
}

// Names returns staged entry names in insertion order
func (z *Zip) Names() []string {
	names := make([]string, len(z.entries))
	for i, e := range z.entries {
		names[i] = e.name
	}
	return names
}

func (z *Zip) Finalize(ctx context.Context, onProgress func(percent float64)) ([]byte, error) {
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	total := len(z.entries)
	report(0)
	for i, e := range z.entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return nil, err
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: z.modified,
		})
		if err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("failed to add %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("failed to write %s: %w", e.name, err)
		}

		// The last step is reserved for writing the central directory
		report(float64(i+1) / float64(total+1) * 100)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	report(100)

	utils.Debug("Archive: %d entries, %s", total, utils.ConvertBytesToHumanReadable(int64(buf.Len())))
	return buf.Bytes(), nil
}
