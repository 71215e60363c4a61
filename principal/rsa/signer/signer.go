package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/storacha/go-crx3/principal"
	"github.com/storacha/go-crx3/principal/rsa/verifier"
)

// DefaultKeySize is the modulus length, in bits, of newly generated keys.
const DefaultKeySize = 4096

// MinKeySize is the smallest modulus GenerateWithSize accepts.
const MinKeySize = 2048

const (
	pemType       = "PRIVATE KEY"
	legacyPEMType = "RSA PRIVATE KEY"
)

func GenerateWithSize(bits int) (principal.Signer, error) {
	if bits < MinKeySize {
		return nil, fmt.Errorf("RSA key size %d is below the minimum of %d", bits, MinKeySize)
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey wraps an existing RSA private key.
func FromPrivateKey(priv *rsa.PrivateKey) (principal.Signer, error) {
	// Export key in Private Key Cryptography Standards (PKCS #8) format, which
	// is what gets persisted, and derive the verifier from the public half so
	// both always describe the same key.
	raw, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}

	verif, err := verifier.FromPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	return rsasigner{
		bytes:    pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: raw}),
		raw:      raw,
		privKey:  priv,
		verifier: verif,
	}, nil
}

// Parse decodes a PEM encoded private key from a string.
func Parse(str string) (principal.Signer, error) {
	return Decode([]byte(str))
}

// Decode parses a PEM encoded RSA private key. PKCS #8 ("PRIVATE KEY") is the
// canonical form; PKCS #1 ("RSA PRIVATE KEY") is accepted because older
// packaging tools wrote it.
func Decode(b []byte) (principal.Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	var priv *rsa.PrivateKey
	switch block.Type {
	case pemType:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		rsakey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("expected RSA private key instead got %T", key)
		}
		priv = rsakey
	case legacyPEMType:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		priv = key
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}

	return FromPrivateKey(priv)
}

type rsasigner struct {
	bytes    []byte
	raw      []byte
	privKey  *rsa.PrivateKey
	verifier principal.Verifier
}

func (s rsasigner) Verifier() principal.Verifier {
	return s.verifier
}

func (s rsasigner) Encode() []byte {
	return s.bytes
}

func (s rsasigner) Raw() []byte {
	return s.raw
}

func (s rsasigner) SignatureSize() int {
	return s.privKey.Size()
}

func (s rsasigner) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return s.SignDigest(digest[:])
}

func (s rsasigner) SignDigest(digest []byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(nil, s.privKey, crypto.SHA256, digest)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}
	return sig, nil
}
