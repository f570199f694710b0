package crawl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-crawler/internal/portal"
)

// Downloader fetches direct-download rows into a per-name folder layout.
// Dedup is the destination path itself: a file already on disk is satisfied.
type Downloader struct {
	session portal.Session
	dir     string
	logger  *zap.Logger
}

func NewDownloader(session portal.Session, dir string, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{session: session, dir: dir, logger: logger}
}

// Fetch downloads the row's file unless the destination already exists.
// It returns the destination path and whether a download actually happened.
func (d *Downloader) Fetch(ctx context.Context, row portal.Row) (string, bool, error) {
	dest := d.destPath(row)
	if _, err := os.Stat(dest); err == nil {
		return dest, false, nil
	} else if !os.IsNotExist(err) {
		return dest, false, fmt.Errorf("stat %s: %w", dest, err)
	}
	if err := d.session.DownloadFile(ctx, row, dest); err != nil {
		return dest, false, err
	}
	d.logger.Info("file downloaded",
		zap.String("name", row.Name),
		zap.String("path", dest),
	)
	return dest, true, nil
}

func (d *Downloader) destPath(row portal.Row) string {
	name := sanitizeName(row.Name)
	file := sanitizeName(strings.TrimSpace(row.Title + " " + row.DateAdded))
	if file == "" {
		file = "document"
	}
	return filepath.Join(d.dir, name, file+".pdf")
}

// sanitizeName strips characters that are unsafe in file and folder names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
