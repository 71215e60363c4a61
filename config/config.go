// Package config holds the settings of a packaging run and derives the
// output file names from the extension being packaged.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Auto as an output path means "name the file after the extension".
const Auto = "auto"

// Default file names, used when no extension name can be derived.
const (
	DefaultCRXFile = "web-extension.crx"
	DefaultZipFile = "web-extension.zip"
	DefaultKeyFile = "web-extension.pem"
	DefaultXMLFile = "web-extension.xml"
)

const manifestFile = "manifest.json"

// KeyExt is the file extension of private key files.
const KeyExt = ".pem"

// Config is the configuration of a packaging run. Optional outputs are
// disabled while their path is empty.
type Config struct {
	// Name names output files that are not given explicitly.
	Name string `yaml:"name"`
	// CRXPath is the package file. Empty means the default.
	CRXPath string `yaml:"crx_path"`
	// ZipPath is an optional copy of the archive.
	ZipPath string `yaml:"zip_path"`
	// KeyPath is the private key file, read if present and created if not.
	// Empty means a throwaway key.
	KeyPath string `yaml:"key_path"`
	// XMLPath is an optional update manifest.
	XMLPath string `yaml:"xml_path"`
	// AppVersion is written to the update manifest.
	AppVersion string `yaml:"app_version"`
	// CRXURL is the package URL written to the update manifest.
	CRXURL string `yaml:"crx_url"`
	// SrcPaths lists the extension directories or files to package.
	SrcPaths []string `yaml:"src_paths"`
}

// Default returns a configuration that writes only the package file.
func Default() *Config {
	return &Config{}
}

// LoadFile reads a YAML configuration file. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Sanitize derives Name from the source paths when it is unset, names Auto
// and default outputs after it and makes every output path absolute relative
// to cwd.
func (c *Config) Sanitize(cwd string) {
	if c.Name == "" {
		c.Name = deriveName(cwd, c.SrcPaths)
	}

	if c.Name != "" && (c.CRXPath == "" || c.CRXPath == Auto || c.CRXPath == resolve(cwd, DefaultCRXFile)) {
		c.CRXPath = c.Name + ".crx"
	}
	if c.CRXPath == "" || c.CRXPath == Auto {
		c.CRXPath = DefaultCRXFile
	}
	c.CRXPath = resolve(cwd, c.CRXPath)

	c.ZipPath = optional(cwd, c.Name, c.ZipPath, ".zip", DefaultZipFile)
	c.KeyPath = optional(cwd, c.Name, c.KeyPath, KeyExt, DefaultKeyFile)
	c.XMLPath = optional(cwd, c.Name, c.XMLPath, ".xml", DefaultXMLFile)
}

func optional(cwd, name, path, ext, def string) string {
	if path == "" {
		return ""
	}
	if name != "" && (path == Auto || path == resolve(cwd, def)) {
		path = name + ext
	}
	if path == Auto {
		path = def
	}
	return resolve(cwd, path)
}

// deriveName names the extension after its directory: the only source path
// when it has no file extension, otherwise the directory of the only
// manifest.json listed.
func deriveName(cwd string, srcPaths []string) string {
	var name string
	switch {
	case len(srcPaths) == 1 && filepath.Ext(srcPaths[0]) == "":
		name = filepath.Base(resolve(cwd, srcPaths[0]))
	case len(srcPaths) > 0:
		var manifests []string
		for _, p := range srcPaths {
			if filepath.Base(p) == manifestFile {
				manifests = append(manifests, p)
			}
		}
		if len(manifests) == 1 {
			name = filepath.Base(filepath.Dir(resolve(cwd, manifests[0])))
		}
	}
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func resolve(cwd, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}

// Validate reports settings that cannot produce a usable package.
func (c *Config) Validate() error {
	if c.CRXPath == "" {
		return fmt.Errorf("no package path configured")
	}
	if c.CRXURL != "" {
		u, err := url.Parse(c.CRXURL)
		if err != nil {
			return fmt.Errorf("invalid package URL: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid package URL %q: must be absolute", c.CRXURL)
		}
	}
	for _, src := range c.SrcPaths {
		if strings.EqualFold(filepath.Ext(src), KeyExt) {
			return fmt.Errorf("refusing to package private key file %q", src)
		}
	}
	for _, p := range []string{c.ZipPath, c.KeyPath, c.XMLPath} {
		if p != "" && p == c.CRXPath {
			return fmt.Errorf("output %q would overwrite the package file", p)
		}
	}
	return nil
}
