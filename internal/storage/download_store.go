// Package storage is the download subsystem: it writes media into the
// downloads directory and renames on collision.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/iconidentify/canvasgrab/internal/domain"
)

// maxNameLength keeps generated names well under common filesystem limits.
const maxNameLength = 200

// DownloadStore saves downloads under a base directory on an afero filesystem.
type DownloadStore struct {
	fs       afero.Fs
	basePath string

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewDownloadStore creates a store rooted at basePath.
func NewDownloadStore(fs afero.Fs, basePath string) *DownloadStore {
	return &DownloadStore{
		fs:       fs,
		basePath: basePath,
		reserved: make(map[string]struct{}),
	}
}

// NewOsDownloadStore creates a store on the OS filesystem.
func NewOsDownloadStore(basePath string) *DownloadStore {
	return NewDownloadStore(afero.NewOsFs(), basePath)
}

// BasePath returns the downloads directory.
func (s *DownloadStore) BasePath() string {
	return s.basePath
}

// Save writes content to filename inside the downloads directory. If the name
// is taken, " (n)" is inserted before the extension. It returns the final
// path and the number of bytes written.
func (s *DownloadStore) Save(ctx context.Context, filename string, content io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	if err := s.fs.MkdirAll(s.basePath, 0755); err != nil {
		return "", 0, fmt.Errorf("create download directory: %w", err)
	}

	finalPath, err := s.reserve(SanitizeFilename(filename))
	if err != nil {
		return "", 0, err
	}
	defer s.release(finalPath)

	// Write to a partial file first, then rename so a half-written file never
	// carries the final name.
	partPath := finalPath + ".part"
	f, err := s.fs.Create(partPath)
	if err != nil {
		return "", 0, fmt.Errorf("create partial file: %w", err)
	}

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: content})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.fs.Remove(partPath)
		return "", 0, domain.NewMediaError(filename, "write download", fmt.Errorf("%w: %w", domain.ErrDownloadFailed, err))
	}

	if err := s.fs.Rename(partPath, finalPath); err != nil {
		s.fs.Remove(partPath)
		return "", 0, fmt.Errorf("move download to final location: %w", err)
	}

	return finalPath, n, nil
}

// Exists reports whether a file with this name is in the downloads directory.
func (s *DownloadStore) Exists(filename string) bool {
	_, err := s.fs.Stat(filepath.Join(s.basePath, SanitizeFilename(filename)))
	return err == nil
}

// FreeSpace returns the bytes available in the downloads directory, or 0
// when unknown (non-OS filesystems or a missing directory).
func (s *DownloadStore) FreeSpace() int64 {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return 0
	}
	_, free := DiskUsage(s.basePath)
	return free
}

// reserve picks a free path for name and holds it until release so that two
// concurrent saves of the same name do not collide.
func (s *DownloadStore) reserve(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		p := filepath.Join(s.basePath, candidate)
		if _, taken := s.reserved[p]; taken {
			continue
		}
		if _, err := s.fs.Stat(p); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		s.reserved[p] = struct{}{}
		return p, nil
	}
	return "", fmt.Errorf("no free filename for %q", name)
}

func (s *DownloadStore) release(p string) {
	s.mu.Lock()
	delete(s.reserved, p)
	s.mu.Unlock()
}

// SanitizeFilename strips directories and characters that are unsafe in
// filenames. An empty result becomes "media".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)

	name = strings.Trim(name, " .")
	if name == "" || name == "/" {
		return "media"
	}

	if len(name) > maxNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}
	return name
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
