package crx

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/storacha/go-crx3/crxid"
	"github.com/storacha/go-crx3/header"
	"github.com/storacha/go-crx3/principal"
	"github.com/storacha/go-crx3/signing"
	"github.com/storacha/go-crx3/testing/fixtures"
	"github.com/storacha/go-crx3/testing/helpers"
	"github.com/stretchr/testify/require"
)

func proof(t *testing.T, s principal.Signer, shd, body []byte) header.AsymmetricKeyProof {
	t.Helper()
	stream := signing.New(shd)
	_, _ = stream.Write(body)
	sig, err := stream.Sign(s)
	require.NoError(t, err)
	return header.AsymmetricKeyProof{PublicKey: s.Verifier().Encode(), Signature: sig}
}

func build(t *testing.T, h *header.FileHeader, body []byte) []byte {
	t.Helper()
	framed, err := header.Frame(h.Marshal())
	require.NoError(t, err)
	return append(framed, body...)
}

func TestVerify(t *testing.T) {
	aliceID := crxid.FromPublicKey(fixtures.Alice.Verifier().Encode())
	shd := header.EncodeSignedData(aliceID)
	body := helpers.RandomBytes(1024)

	t.Run("body CID", func(t *testing.T) {
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Alice, shd, body)},
			SignedHeaderData: shd,
		}
		v, err := Verify(bytes.NewReader(build(t, h, body)))
		require.NoError(t, err)

		sum := sha256.Sum256(body)
		mh := helpers.Must(multihash.Encode(sum[:], multihash.SHA2_256))
		require.Equal(t, cid.NewCidV1(cid.Raw, mh), v.BodyCID)
		require.Equal(t, uint64(cid.Raw), v.BodyCID.Prefix().Codec)

		enc, decoded, err := multibase.Decode(v.PublicKeyString())
		require.NoError(t, err)
		require.Equal(t, multibase.Encoding(multibase.Base64pad), enc)
		require.Equal(t, fixtures.Alice.Verifier().Encode(), decoded)
	})

	t.Run("extra proofs", func(t *testing.T) {
		h := &header.FileHeader{
			SHA256WithRSA: []header.AsymmetricKeyProof{
				proof(t, fixtures.Bob, shd, body),
				proof(t, fixtures.Alice, shd, body),
			},
			SignedHeaderData: shd,
		}
		v, err := Verify(bytes.NewReader(build(t, h, body)))
		require.NoError(t, err)
		require.Equal(t, fixtures.AliceID, v.ID.String())
		require.Equal(t, fixtures.Alice.Verifier().Encode(), v.PublicKey)
	})

	t.Run("bad extra proof", func(t *testing.T) {
		bad := proof(t, fixtures.Bob, shd, []byte("something else"))
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Alice, shd, body), bad},
			SignedHeaderData: shd,
		}
		_, err := Verify(bytes.NewReader(build(t, h, body)))
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("ID mismatch", func(t *testing.T) {
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Bob, shd, body)},
			SignedHeaderData: shd,
		}
		_, err := Verify(bytes.NewReader(build(t, h, body)))
		require.ErrorIs(t, err, ErrIDMismatch)
	})

	t.Run("no proof", func(t *testing.T) {
		h := &header.FileHeader{SignedHeaderData: shd}
		_, err := Verify(bytes.NewReader(build(t, h, body)))
		require.ErrorIs(t, err, ErrNoProof)
	})

	t.Run("ECDSA proof", func(t *testing.T) {
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Alice, shd, body)},
			SHA256WithECDSA:  []header.AsymmetricKeyProof{{PublicKey: []byte{1}, Signature: []byte{2}}},
			SignedHeaderData: shd,
		}
		_, err := Verify(bytes.NewReader(build(t, h, body)))
		require.ErrorIs(t, err, ErrUnsupportedProof)
	})

	t.Run("short package ID", func(t *testing.T) {
		short := []byte{0x0a, 0x02, 0x01, 0x02}
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Alice, short, body)},
			SignedHeaderData: short,
		}
		_, err := Verify(bytes.NewReader(build(t, h, body)))
		require.ErrorIs(t, err, header.ErrMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		h := &header.FileHeader{
			SHA256WithRSA:    []header.AsymmetricKeyProof{proof(t, fixtures.Alice, shd, body)},
			SignedHeaderData: shd,
		}
		data := build(t, h, body)
		_, err := Verify(bytes.NewReader(data[:len(data)-len(body)-1]))
		require.ErrorIs(t, err, header.ErrMalformed)

		_, err = Verify(bytes.NewReader(data[:len(data)-1]))
		require.ErrorIs(t, err, ErrBadSignature)
	})
}
