package verifier

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/storacha/go-crx3/principal"
)

// Decode parses a DER encoded SubjectPublicKeyInfo holding an RSA key.
func Decode(b []byte) (principal.Verifier, error) {
	pub, err := x509.ParsePKIXPublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	rsapub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected RSA public key instead got %T", pub)
	}

	return rsaverifier{bytes: b, pubKey: rsapub}, nil
}

// FromPublicKey wraps an RSA public key.
func FromPublicKey(pub *rsa.PublicKey) (principal.Verifier, error) {
	b, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	return rsaverifier{bytes: b, pubKey: pub}, nil
}

type rsaverifier struct {
	bytes  []byte
	pubKey *rsa.PublicKey
}

func (v rsaverifier) Verify(msg []byte, sig []byte) bool {
	digest := sha256.Sum256(msg)
	return v.VerifyDigest(digest[:], sig)
}

func (v rsaverifier) VerifyDigest(digest []byte, sig []byte) bool {
	err := rsa.VerifyPKCS1v15(v.pubKey, crypto.SHA256, digest, sig)
	return err == nil
}

func (v rsaverifier) Encode() []byte {
	return v.bytes
}
