package crx

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/storacha/go-crx3/crxid"
	"github.com/storacha/go-crx3/header"
	"github.com/storacha/go-crx3/principal/rsa/verifier"
	"github.com/storacha/go-crx3/signing"
)

var (
	// ErrNoProof means the header carries no SHA256-with-RSA proof.
	ErrNoProof = errors.New("package has no RSA proof")
	// ErrIDMismatch means no proof's public key hashes to the declared ID.
	ErrIDMismatch = errors.New("no proof matches the package ID")
	// ErrBadSignature means a proof's signature does not cover the archive.
	ErrBadSignature = errors.New("package signature is invalid")
	// ErrUnsupportedProof means the header carries ECDSA proofs, which
	// cannot be checked here.
	ErrUnsupportedProof = errors.New("package has unsupported ECDSA proofs")
)

// Verified describes a package whose signatures checked out.
type Verified struct {
	ID         crxid.ID
	PublicKey  []byte
	HeaderSize int64
	BodySize   int64
	// BodyCID addresses the archive: CIDv1, raw codec, sha2-256.
	BodyCID cid.Cid
}

// PublicKeyString renders the public key as multibase base64 (padded).
func (v *Verified) PublicKeyString() string {
	s, _ := multibase.Encode(multibase.Base64pad, v.PublicKey)
	return s
}

// Verify reads a package from r and checks every RSA proof in its header
// against the archive that follows. One of the proofs must belong to the key
// the package ID was derived from.
func Verify(r io.Reader) (*Verified, error) {
	hdr, size, err := header.Read(r)
	if err != nil {
		return nil, err
	}

	sd, err := header.DecodeSignedData(hdr.SignedHeaderData)
	if err != nil {
		return nil, err
	}
	if len(sd.CrxID) != crxid.Size {
		return nil, fmt.Errorf("%w: package ID is %d bytes", header.ErrMalformed, len(sd.CrxID))
	}
	var id crxid.ID
	copy(id[:], sd.CrxID)

	if len(hdr.SHA256WithECDSA) > 0 {
		return nil, ErrUnsupportedProof
	}
	if len(hdr.SHA256WithRSA) == 0 {
		return nil, ErrNoProof
	}

	matched := -1
	streams := make([]*signing.Stream, len(hdr.SHA256WithRSA))
	writers := make([]io.Writer, 0, len(hdr.SHA256WithRSA)+1)
	for i, proof := range hdr.SHA256WithRSA {
		if matched < 0 && crxid.FromPublicKey(proof.PublicKey) == id {
			matched = i
		}
		streams[i] = signing.New(hdr.SignedHeaderData)
		writers = append(writers, streams[i])
	}
	if matched < 0 {
		return nil, ErrIDMismatch
	}

	body := sha256.New()
	writers = append(writers, body)
	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	for i, proof := range hdr.SHA256WithRSA {
		v, err := verifier.Decode(proof.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: proof %d: %s", ErrBadSignature, i, err)
		}
		ok, err := streams[i].Verify(v, proof.Signature)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: proof %d", ErrBadSignature, i)
		}
	}

	mh, err := multihash.Encode(body.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return nil, fmt.Errorf("encoding archive multihash: %w", err)
	}

	return &Verified{
		ID:         id,
		PublicKey:  hdr.SHA256WithRSA[matched].PublicKey,
		HeaderSize: size,
		BodySize:   n,
		BodyCID:    cid.NewCidV1(cid.Raw, mh),
	}, nil
}
