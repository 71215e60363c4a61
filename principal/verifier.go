package principal

// Verifier is a principal holding public key material.
type Verifier interface {
	// Encode returns the public key as DER encoded SubjectPublicKeyInfo.
	Encode() []byte
	Verify(msg []byte, sig []byte) bool
	VerifyDigest(digest []byte, sig []byte) bool
}
