// Package pack turns an extension directory, or a ready-made zip archive,
// into a signed package plus the optional zip copy and update manifest.
package pack

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/storacha/go-crx3/archive"
	"github.com/storacha/go-crx3/config"
	"github.com/storacha/go-crx3/crx"
	"github.com/storacha/go-crx3/manifest"
	"github.com/storacha/go-crx3/version"
)

var (
	// ErrNoFiles means the source paths name no files.
	ErrNoFiles = errors.New("no files found")
	// ErrKeyInArchive means the sources include a private key file.
	ErrKeyInArchive = errors.New("refusing to package a private key")
)

// Info describes the files a packaging run produced.
type Info struct {
	crx.Result
	CRXPath string
	ZipPath string
	XMLPath string
}

// FromFiles zips the files named by paths, or by cfg.SrcPaths when paths is
// empty, and writes them into a signed package. cfg must be sanitized.
func FromFiles(cfg *config.Config, paths []string, options ...Option) (*Info, error) {
	if len(paths) == 0 {
		paths = cfg.SrcPaths
	}
	files, err := archive.FilePaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), config.KeyExt) {
			return nil, fmt.Errorf("%w: %q", ErrKeyInArchive, p)
		}
	}
	if cfg.KeyPath != "" {
		for _, f := range files {
			if abs, err := filepath.Abs(f); err == nil && abs == cfg.KeyPath {
				return nil, fmt.Errorf("%w: %q", ErrKeyInArchive, f)
			}
		}
	}

	return run(cfg, options, func(w io.Writer, pc packConfig) error {
		pc.logger.Debug("zipping files", "count", len(files), "root", archive.CommonPath(files))
		return archive.Write(w, files, pc.zipOptions...)
	})
}

// FromZip writes the zip archive read from r into a signed package. The
// archive must have manifest.json at its root.
func FromZip(cfg *config.Config, r io.Reader, options ...Option) (*Info, error) {
	return run(cfg, options, func(w io.Writer, _ packConfig) error {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("copying archive: %w", err)
		}
		return nil
	})
}

func run(cfg *config.Config, options []Option, produce func(io.Writer, packConfig) error) (*Info, error) {
	pc := packConfig{logger: slog.Default()}
	for _, opt := range options {
		if err := opt(&pc); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w, err := crx.Create(cfg.CRXPath,
		crx.WithKeyPath(cfg.KeyPath),
		crx.WithKeyOptions(pc.keyOptions...),
		crx.WithLogger(pc.logger),
	)
	if err != nil {
		return nil, err
	}

	var dst io.Writer = w
	var zipFile *os.File
	if cfg.ZipPath != "" {
		zipFile, err = os.Create(cfg.ZipPath)
		if err != nil {
			_ = w.Abort(err)
			return nil, fmt.Errorf("creating zip file: %w", err)
		}
		dst = io.MultiWriter(w, zipFile)
	}

	if err := produce(dst, pc); err != nil {
		_ = w.Abort(err)
		cleanup(pc.logger, w, cfg.CRXPath, zipFile)
		return nil, err
	}

	res, err := w.Finish()
	if err != nil {
		cleanup(pc.logger, w, cfg.CRXPath, zipFile)
		return nil, err
	}
	if zipFile != nil {
		if err := zipFile.Close(); err != nil {
			return nil, fmt.Errorf("closing zip file: %w", err)
		}
	}

	info := &Info{Result: res, CRXPath: cfg.CRXPath, ZipPath: cfg.ZipPath}
	if cfg.XMLPath != "" {
		warnDowngrade(pc.logger, cfg)
		digest, err := manifest.FileDigest(cfg.CRXPath)
		if err != nil {
			return nil, err
		}
		err = manifest.WriteFile(cfg.XMLPath, manifest.Manifest{
			AppID:    res.ID.String(),
			Codebase: cfg.CRXURL,
			Version:  cfg.AppVersion,
			Digest:   digest,
		})
		if err != nil {
			return nil, err
		}
		info.XMLPath = cfg.XMLPath
	}

	pc.logger.Info("created package", "path", info.CRXPath, "id", res.ID.String(), "archive_size", res.BodySize)
	return info, nil
}

// warnDowngrade warns when the update manifest being replaced advertises a
// newer version than the one about to be written. Browsers ignore updates
// to a lower version.
func warnDowngrade(logger *slog.Logger, cfg *config.Config) {
	if cfg.AppVersion == "" {
		return
	}
	prev, err := manifest.ReadFile(cfg.XMLPath)
	if err != nil {
		return
	}
	if !version.AtLeast(cfg.AppVersion, prev.Version) {
		logger.Warn("update manifest version goes backwards", "path", cfg.XMLPath, "previous", prev.Version, "version", cfg.AppVersion)
	}
}

// cleanup removes the partial outputs of a failed run. A package file the
// writer never opened is left alone, since it belongs to an earlier run.
func cleanup(logger *slog.Logger, w *crx.Writer, crxPath string, zipFile *os.File) {
	remove := func(path string) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("removing partial output", "path", path, "error", err)
		}
	}
	if w.Opened() {
		remove(crxPath)
	}
	if zipFile != nil {
		_ = zipFile.Close()
		remove(zipFile.Name())
	}
}
