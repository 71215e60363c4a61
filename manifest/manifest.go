// Package manifest writes the update manifest that tells a browser where
// to fetch a package and which version it holds.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/multiformats/go-multihash"
)

// Namespace is the XML namespace of update manifests.
const Namespace = "http://www.google.com/update2/response"

// Protocol is the update protocol version written to the manifest.
const Protocol = "2.0"

// Manifest describes a single package.
type Manifest struct {
	// AppID is the encoded package ID.
	AppID string
	// Codebase is the URL the package is served from.
	Codebase string
	// Version is the extension version.
	Version string
	// Digest is the sha2-256 multihash of the package file.
	Digest multihash.Multihash
}

type gupdate struct {
	XMLName  xml.Name `xml:"http://www.google.com/update2/response gupdate"`
	Protocol string   `xml:"protocol,attr"`
	App      app      `xml:"app"`
}

type app struct {
	AppID       string      `xml:"appid,attr"`
	UpdateCheck updateCheck `xml:"updatecheck"`
}

type updateCheck struct {
	Codebase   string `xml:"codebase,attr,omitempty"`
	Version    string `xml:"version,attr,omitempty"`
	HashSHA256 string `xml:"hash_sha256,attr,omitempty"`
}

// Write writes m to w as a gupdate XML document.
func Write(w io.Writer, m Manifest) error {
	if m.AppID == "" {
		return fmt.Errorf("update manifest needs an app ID")
	}

	var hash string
	if len(m.Digest) > 0 {
		dh, err := multihash.Decode(m.Digest)
		if err != nil {
			return fmt.Errorf("decoding package digest: %w", err)
		}
		if dh.Code != multihash.SHA2_256 {
			return fmt.Errorf("package digest is %s, want sha2-256", dh.Name)
		}
		hash = hex.EncodeToString(dh.Digest)
	}

	doc := gupdate{
		Protocol: Protocol,
		App: app{
			AppID: m.AppID,
			UpdateCheck: updateCheck{
				Codebase:   m.Codebase,
				Version:    m.Version,
				HashSHA256: hash,
			},
		},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding update manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes m to the file at path, replacing it.
func WriteFile(path string, m Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating update manifest: %w", err)
	}
	if err := Write(f, m); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads the update manifest at path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading update manifest: %w", err)
	}

	var doc gupdate
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing update manifest %s: %w", path, err)
	}

	m := &Manifest{
		AppID:    doc.App.AppID,
		Codebase: doc.App.UpdateCheck.Codebase,
		Version:  doc.App.UpdateCheck.Version,
	}
	if h := doc.App.UpdateCheck.HashSHA256; h != "" {
		digest, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("parsing update manifest %s: bad hash_sha256: %w", path, err)
		}
		if m.Digest, err = multihash.Encode(digest, multihash.SHA2_256); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FileDigest returns the sha2-256 multihash of the file at path.
func FileDigest(path string) (multihash.Multihash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing %q: %w", path, err)
	}
	return multihash.Encode(h.Sum(nil), multihash.SHA2_256)
}
