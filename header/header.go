// Package header encodes and decodes the CRX3 file header.
//
// A CRX3 file starts with a 12 byte prefix: the magic "Cr24", the format
// version (3) and the length of the header message, the latter two as
// little-endian uint32. The header message is the protobuf CrxFileHeader
// from Chromium's components/crx_file/crx3.proto:
//
//	message CrxFileHeader {
//	  repeated AsymmetricKeyProof sha256_with_rsa = 2;
//	  repeated AsymmetricKeyProof sha256_with_ecdsa = 3;
//	  bytes signed_header_data = 10000;
//	}
//	message AsymmetricKeyProof {
//	  bytes public_key = 1;
//	  bytes signature = 2;
//	}
//	message SignedData {
//	  bytes crx_id = 1;
//	}
//
// The zip archive follows the header directly.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/storacha/go-crx3/crxid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Magic is the file signature at offset 0.
const Magic = "Cr24"

// Version is the CRX format version written at offset 4.
const Version uint32 = 3

// PrefixSize is the size of the magic, version and length prefix.
const PrefixSize = 12

// SignatureContext is prepended to the signed data of every signature.
const SignatureContext = "CRX3 SignedData\x00"

// MaxReadSize bounds the header length Read will accept.
const MaxReadSize = 1 << 24

const (
	fieldSHA256WithRSA    protowire.Number = 2
	fieldSHA256WithECDSA  protowire.Number = 3
	fieldSignedHeaderData protowire.Number = 10000

	fieldPublicKey protowire.Number = 1
	fieldSignature protowire.Number = 2

	fieldCrxID protowire.Number = 1
)

var (
	ErrEncodingOverflow   = errors.New("header length does not fit in 32 bits")
	ErrBadMagic           = errors.New("not a CRX file")
	ErrUnsupportedVersion = errors.New("unsupported CRX version")
	ErrMalformed          = errors.New("malformed CRX header")
)

// maxHeaderSize is the largest encodable header message.
var maxHeaderSize uint64 = math.MaxUint32

// AsymmetricKeyProof is a public key and the signature it made.
type AsymmetricKeyProof struct {
	PublicKey []byte
	Signature []byte
}

// FileHeader is the decoded CrxFileHeader message.
type FileHeader struct {
	SHA256WithRSA    []AsymmetricKeyProof
	SHA256WithECDSA  []AsymmetricKeyProof
	SignedHeaderData []byte
}

// SignedData is the decoded SignedData message.
type SignedData struct {
	CrxID []byte
}

// Marshal encodes the header message, without the prefix.
func (h *FileHeader) Marshal() []byte {
	size := h.size()
	buf := make([]byte, 0, size)
	for _, p := range h.SHA256WithRSA {
		buf = protowire.AppendTag(buf, fieldSHA256WithRSA, protowire.BytesType)
		buf = protowire.AppendVarint(buf, uint64(p.size()))
		buf = p.marshalTo(buf)
	}
	for _, p := range h.SHA256WithECDSA {
		buf = protowire.AppendTag(buf, fieldSHA256WithECDSA, protowire.BytesType)
		buf = protowire.AppendVarint(buf, uint64(p.size()))
		buf = p.marshalTo(buf)
	}
	if len(h.SignedHeaderData) > 0 {
		buf = appendBytesField(buf, fieldSignedHeaderData, h.SignedHeaderData)
	}
	return buf
}

func (h *FileHeader) size() int {
	n := 0
	for _, p := range h.SHA256WithRSA {
		n += bytesFieldSize(fieldSHA256WithRSA, p.size())
	}
	for _, p := range h.SHA256WithECDSA {
		n += bytesFieldSize(fieldSHA256WithECDSA, p.size())
	}
	if len(h.SignedHeaderData) > 0 {
		n += bytesFieldSize(fieldSignedHeaderData, len(h.SignedHeaderData))
	}
	return n
}

func (p AsymmetricKeyProof) size() int {
	n := 0
	if len(p.PublicKey) > 0 {
		n += bytesFieldSize(fieldPublicKey, len(p.PublicKey))
	}
	if len(p.Signature) > 0 {
		n += bytesFieldSize(fieldSignature, len(p.Signature))
	}
	return n
}

func (p AsymmetricKeyProof) marshalTo(buf []byte) []byte {
	if len(p.PublicKey) > 0 {
		buf = appendBytesField(buf, fieldPublicKey, p.PublicKey)
	}
	if len(p.Signature) > 0 {
		buf = appendBytesField(buf, fieldSignature, p.Signature)
	}
	return buf
}

// Unmarshal decodes a header message (without the prefix). Unknown fields are
// skipped.
func Unmarshal(b []byte) (*FileHeader, error) {
	h := &FileHeader{}
	err := readFields(b, func(field protowire.Number, data []byte) error {
		switch field {
		case fieldSHA256WithRSA, fieldSHA256WithECDSA:
			p, err := unmarshalProof(data)
			if err != nil {
				return err
			}
			if field == fieldSHA256WithRSA {
				h.SHA256WithRSA = append(h.SHA256WithRSA, p)
			} else {
				h.SHA256WithECDSA = append(h.SHA256WithECDSA, p)
			}
		case fieldSignedHeaderData:
			h.SignedHeaderData = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func unmarshalProof(b []byte) (AsymmetricKeyProof, error) {
	var p AsymmetricKeyProof
	err := readFields(b, func(field protowire.Number, data []byte) error {
		switch field {
		case fieldPublicKey:
			p.PublicKey = data
		case fieldSignature:
			p.Signature = data
		}
		return nil
	})
	return p, err
}

// EncodeSignedData encodes the SignedData message for id.
func EncodeSignedData(id crxid.ID) []byte {
	return appendBytesField(make([]byte, 0, bytesFieldSize(fieldCrxID, crxid.Size)), fieldCrxID, id[:])
}

// DecodeSignedData decodes a SignedData message.
func DecodeSignedData(b []byte) (*SignedData, error) {
	sd := &SignedData{}
	err := readFields(b, func(field protowire.Number, data []byte) error {
		if field == fieldCrxID {
			sd.CrxID = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sd, nil
}

// SignatureSeed returns the bytes every signature covers before the archive:
// the signature context, the little-endian length of the signed header data
// and the signed header data itself.
func SignatureSeed(signedHeaderData []byte) []byte {
	seed := make([]byte, 0, len(SignatureContext)+4+len(signedHeaderData))
	seed = append(seed, SignatureContext...)
	seed = binary.LittleEndian.AppendUint32(seed, uint32(len(signedHeaderData)))
	return append(seed, signedHeaderData...)
}

// Encode builds a complete header, prefix included, holding a single
// SHA256-with-RSA proof.
func Encode(publicKey, signedHeaderData, signature []byte) ([]byte, error) {
	h := &FileHeader{
		SHA256WithRSA:    []AsymmetricKeyProof{{PublicKey: publicKey, Signature: signature}},
		SignedHeaderData: signedHeaderData,
	}
	return Frame(h.Marshal())
}

// Frame prepends the magic, version and length prefix to an encoded header
// message.
func Frame(msg []byte) ([]byte, error) {
	if uint64(len(msg)) > maxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEncodingOverflow, len(msg))
	}

	out := make([]byte, PrefixSize, PrefixSize+len(msg))
	copy(out, Magic)
	binary.LittleEndian.PutUint32(out[4:], Version)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(msg)))
	return append(out, msg...), nil
}

// Read reads the prefix and header message from r, leaving r positioned at
// the start of the archive. It returns the decoded header and the number of
// bytes consumed.
func Read(r io.Reader) (*FileHeader, int64, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: file is shorter than the header prefix", ErrBadMagic)
		}
		return nil, 0, fmt.Errorf("reading header prefix: %w", err)
	}

	if string(prefix[:4]) != Magic {
		return nil, 0, fmt.Errorf("%w: bad magic %q", ErrBadMagic, prefix[:4])
	}
	if v := binary.LittleEndian.Uint32(prefix[4:]); v != Version {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	size := binary.LittleEndian.Uint32(prefix[8:])
	if size > MaxReadSize {
		return nil, 0, fmt.Errorf("%w: header length %d exceeds %d", ErrMalformed, size, MaxReadSize)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, 0, fmt.Errorf("%w: reading %d byte header: %s", ErrMalformed, size, err)
	}

	h, err := Unmarshal(msg)
	if err != nil {
		return nil, 0, err
	}
	return h, PrefixSize + int64(size), nil
}
