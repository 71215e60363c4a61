// Package archive collects extension files and zips them into the archive
// that a package signs.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFile is the name of an extension's manifest.
const ManifestFile = "manifest.json"

// FilePaths expands list into the regular files it names. A list holding a
// single manifest.json path stands for the manifest's whole directory.
// Otherwise directories are walked recursively in lexical order, files are
// kept as they are and entries that do not exist are skipped.
func FilePaths(list []string) ([]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if len(list) == 1 && filepath.Base(list[0]) == ManifestFile {
		dir := filepath.Dir(list[0])
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("reading extension directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("extension path %q is not a directory", dir)
		}
		return walk(nil, dir)
	}

	var files []string
	for _, entry := range list {
		info, err := os.Stat(entry)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", entry, err)
		}

		switch {
		case info.IsDir():
			files, err = walk(files, entry)
			if err != nil {
				return nil, err
			}
		case info.Mode().IsRegular():
			files = append(files, entry)
		}
	}
	return files, nil
}

func walk(files []string, root string) ([]string, error) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", root, err)
	}
	return files, nil
}

// CommonPath returns the longest directory that is a parent of every path,
// with a trailing separator. It returns "" when the paths share no directory.
func CommonPath(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	common := dirPrefix(paths[0])
	for _, p := range paths[1:] {
		d := dirPrefix(p)
		n := 0
		for n < len(common) && n < len(d) && common[n] == d[n] {
			n++
		}
		common = common[:strings.LastIndexByte(common[:n], filepath.Separator)+1]
	}
	return common
}

// dirPrefix returns path up to and including its last separator.
func dirPrefix(path string) string {
	return path[:strings.LastIndexByte(path, filepath.Separator)+1]
}
