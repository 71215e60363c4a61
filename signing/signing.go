// Package signing computes CRX3 signatures incrementally, so an archive can
// be signed while it is being written instead of after it has been buffered.
package signing

import (
	"crypto/sha256"
	"errors"
	"hash"

	"github.com/storacha/go-crx3/header"
	"github.com/storacha/go-crx3/principal"
)

// ErrFinalized is returned when a Stream is used after Sign or Verify.
var ErrFinalized = errors.New("signing stream already finalized")

// Stream is a running SHA-256 over the signature seed followed by every byte
// written to it. It is not safe for concurrent use.
type Stream struct {
	hash hash.Hash
}

// New returns a Stream seeded with the signature context and signed header
// data.
func New(signedHeaderData []byte) *Stream {
	h := sha256.New()
	h.Write(header.SignatureSeed(signedHeaderData))
	return &Stream{hash: h}
}

// Write feeds archive bytes to the stream.
func (s *Stream) Write(p []byte) (int, error) {
	if s.hash == nil {
		return 0, ErrFinalized
	}
	return s.hash.Write(p)
}

// Sign finalizes the stream and signs everything written to it.
func (s *Stream) Sign(signer principal.Signer) ([]byte, error) {
	digest, err := s.finalize()
	if err != nil {
		return nil, err
	}
	return signer.SignDigest(digest)
}

// Verify finalizes the stream and checks sig against everything written to
// it.
func (s *Stream) Verify(verifier principal.Verifier, sig []byte) (bool, error) {
	digest, err := s.finalize()
	if err != nil {
		return false, err
	}
	return verifier.VerifyDigest(digest, sig), nil
}

func (s *Stream) finalize() ([]byte, error) {
	if s.hash == nil {
		return nil, ErrFinalized
	}
	digest := s.hash.Sum(nil)
	s.hash = nil
	return digest, nil
}
