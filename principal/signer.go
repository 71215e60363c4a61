package principal

// Signer is a principal holding private key material. Signatures are
// RSASSA-PKCS1-v1_5 over SHA-256.
type Signer interface {
	Verifier() Verifier
	// Encode returns the private key in the textual (PEM) form it is persisted
	// in.
	Encode() []byte
	// Raw private key bytes (PKCS #8 DER).
	Raw() []byte
	// Sign hashes msg with SHA-256 and signs the digest.
	Sign(msg []byte) ([]byte, error)
	// SignDigest signs a precomputed SHA-256 digest. It is used by streaming
	// signers that hash the message themselves.
	SignDigest(digest []byte) ([]byte, error)
	// SignatureSize is the length of every signature this signer produces.
	SignatureSize() int
}
