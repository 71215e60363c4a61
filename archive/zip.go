package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

type zipConfig struct {
	level int
}

// Option configures Write.
type Option func(cfg *zipConfig) error

// WithCompressionLevel sets the deflate level, from flate.HuffmanOnly to
// flate.BestCompression. The default is flate.BestCompression.
func WithCompressionLevel(level int) Option {
	return func(cfg *zipConfig) error {
		if level < flate.HuffmanOnly || level > flate.BestCompression {
			return fmt.Errorf("invalid compression level: %d", level)
		}
		cfg.level = level
		return nil
	}
}

// Write zips the files at paths into w. Entry names are the paths relative to
// their CommonPath, with forward slashes.
func Write(w io.Writer, paths []string, options ...Option) error {
	cfg := zipConfig{level: flate.BestCompression}
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return err
		}
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, cfg.level)
	})

	root := CommonPath(paths)
	for _, path := range paths {
		name := filepath.ToSlash(strings.TrimPrefix(path, root))
		if err := addFile(zw, path, name); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	fh, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("creating archive entry for %q: %w", path, err)
	}
	fh.Name = name
	fh.Method = zip.Deflate

	entry, err := zw.CreateHeader(fh)
	if err != nil {
		return fmt.Errorf("creating archive entry for %q: %w", path, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("archiving %q: %w", path, err)
	}
	return nil
}
