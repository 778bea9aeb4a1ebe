package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

var (
	// ErrMalformedSignature means the request carries no usable
	// Signature header.
	ErrMalformedSignature = errors.New("malformed or missing http signature")
	// ErrUnverifiableActor means the signing actor's key could not be
	// obtained, so the signature cannot be checked either way.
	ErrUnverifiableActor = errors.New("unverifiable actor")
	// ErrInvalidSignature means the signature was checked against the
	// actor's key and did not match.
	ErrInvalidSignature = errors.New("invalid http signature")
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// KeyIdOf extracts the keyId parameter from a request's Signature
// header without verifying anything. The result identifies the actor
// whose key must be fetched to verify.
func KeyIdOf(req *http.Request) (string, error) {
	sig := req.Header.Get("Signature")
	if sig == "" {
		return "", ErrMalformedSignature
	}

	for _, part := range strings.Split(sig, ",") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, "keyId="); ok {
			return strings.Trim(val, `"`), nil
		}
	}

	return "", fmt.Errorf("%w: no keyId parameter", ErrMalformedSignature)
}

// ActorOfKeyId maps a keyId to the actor URI that owns it.
// "https://example.com/users/alice#main-key" -> "https://example.com/users/alice"
func ActorOfKeyId(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// VerifyRequest verifies the HTTP signature on an incoming request
// against the given PEM public key. Returns the signing actor URI.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnverifiableActor, err)
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return ActorOfKeyId(verifier.KeyId()), nil
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
